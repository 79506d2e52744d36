// Package classify tags tool invocations with a destructive-operation
// classification. It is a pure function over (tool, input): no state, no
// errors. A nil result means the action is read-only or unknown and
// carries low risk.
package classify

import (
	"fmt"
	"strings"

	"github.com/ppiankov/overseer/internal/model"
)

// Tool families. Matching is case-insensitive on the tool name.
var (
	shellTools = []string{"shell", "bash", "command", "exec", "run_command", "terminal"}
	writeTools = []string{"write", "write_file", "create_file", "file_write", "save_file"}
	editTools  = []string{"edit", "edit_file", "file_edit", "patch", "apply_patch"}
	gitTools   = []string{"git", "git_push", "git_commit", "vcs"}
)

// Shell command substrings with no recovery path at all. These do not
// raise the classification risk level — shell execution is already high —
// but callers may refuse them outright via Catastrophic.
var catastrophicPatterns = []string{
	"rm -rf", "rm -r", "rm -f", "dd if=", "mkfs", "shred",
	"> /dev/", "truncate -s 0", ":(){ :|:& };:",
}

// Shell command substrings that mutate system state beyond the working tree.
var systemPatterns = []string{
	"chmod -r 777", "chown -r", "sudo ", "systemctl", "passwd", "chpasswd",
}

// Classify maps a tool invocation to a destructive classification, or nil
// for read-only/unknown tools.
func Classify(tool string, input map[string]any) *model.DestructiveClassification {
	lower := strings.ToLower(tool)

	switch {
	case matchesFamily(lower, shellTools):
		return classifyShell(tool, input)
	case matchesFamily(lower, writeTools):
		return classifyFileWrite(tool, input, "create/overwrite")
	case matchesFamily(lower, editTools):
		return classifyFileWrite(tool, input, "edit")
	case matchesFamily(lower, gitTools):
		return classifyVCS(tool, input)
	default:
		return nil
	}
}

// Catastrophic reports whether a shell-family invocation matches a pattern
// with no recovery path (recursive delete, disk overwrite, fork bomb).
// Non-shell tools are never catastrophic.
func Catastrophic(tool string, input map[string]any) bool {
	if !matchesFamily(strings.ToLower(tool), shellTools) {
		return false
	}
	lower := strings.ToLower(commandString(input))
	for _, p := range catastrophicPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func classifyShell(tool string, input map[string]any) *model.DestructiveClassification {
	cmd := commandString(input)
	lower := strings.ToLower(cmd)

	category := model.CategoryFileDeletion
	for _, p := range systemPatterns {
		if strings.Contains(lower, p) {
			category = model.CategorySystemChange
			break
		}
	}

	return &model.DestructiveClassification{
		Category:    category,
		Reversible:  false,
		RiskLevel:   model.RiskHigh,
		Files:       extractFiles(input),
		Description: describe(tool, cmd),
	}
}

func classifyFileWrite(tool string, input map[string]any, _ string) *model.DestructiveClassification {
	files := extractFiles(input)
	target := ""
	if len(files) > 0 {
		target = files[0]
	}
	return &model.DestructiveClassification{
		Category:    model.CategoryFileOverwrite,
		Reversible:  false,
		RiskLevel:   model.RiskMedium,
		Files:       files,
		Description: describe(tool, target),
	}
}

func classifyVCS(tool string, input map[string]any) *model.DestructiveClassification {
	cmd := commandString(input)
	lower := strings.ToLower(cmd)

	risk := model.RiskMedium
	if strings.Contains(lower, "push --force") || strings.Contains(lower, "push -f") ||
		strings.Contains(lower, "reset --hard") || strings.Contains(lower, "clean -fd") {
		risk = model.RiskHigh
	}

	return &model.DestructiveClassification{
		Category:    model.CategoryVCSWrite,
		Reversible:  false,
		RiskLevel:   risk,
		Files:       extractFiles(input),
		Description: describe(tool, cmd),
	}
}

func matchesFamily(tool string, family []string) bool {
	for _, f := range family {
		if tool == f {
			return true
		}
	}
	return false
}

// commandString pulls the command text out of common input keys.
func commandString(input map[string]any) string {
	for _, key := range []string{"command", "cmd", "script", "args"} {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// extractFiles pulls file paths out of common input keys.
func extractFiles(input map[string]any) []string {
	var files []string
	for _, key := range []string{"path", "file_path", "file", "target", "filename"} {
		v, ok := input[key]
		if !ok {
			continue
		}
		switch p := v.(type) {
		case string:
			if p != "" {
				files = append(files, p)
			}
		case []string:
			files = append(files, p...)
		case []any:
			for _, e := range p {
				if s, ok := e.(string); ok && s != "" {
					files = append(files, s)
				}
			}
		}
	}
	return files
}

func describe(tool, target string) string {
	name := strings.ToUpper(tool[:1]) + tool[1:]
	if target == "" {
		return fmt.Sprintf("%s operation", name)
	}
	return fmt.Sprintf("%s operation on %s", name, target)
}

package classify

import (
	"strings"
	"testing"

	"github.com/ppiankov/overseer/internal/model"
)

func TestShellDeletionClassification(t *testing.T) {
	c := Classify("shell", map[string]any{"command": "rm -rf /"})
	if c == nil {
		t.Fatal("expected classification for shell deletion")
	}
	if c.Category != model.CategoryFileDeletion {
		t.Errorf("expected file_deletion, got %s", c.Category)
	}
	if c.Reversible {
		t.Error("shell deletion must be irreversible")
	}
	if c.RiskLevel != model.RiskHigh {
		t.Errorf("expected high, got %s", c.RiskLevel)
	}
}

func TestCatastrophicPredicate(t *testing.T) {
	cases := []struct {
		tool string
		cmd  string
		want bool
	}{
		{"shell", "rm -rf /", true},
		{"bash", "dd if=/dev/zero of=/dev/sda", true},
		{"exec", ":(){ :|:& };:", true},
		{"shell", "make build", false},
		{"shell", "git status", false},
		{"write", "rm -rf /", false}, // not a shell family tool
	}
	for _, c := range cases {
		got := Catastrophic(c.tool, map[string]any{"command": c.cmd})
		if got != c.want {
			t.Errorf("Catastrophic(%s, %q) = %v, want %v", c.tool, c.cmd, got, c.want)
		}
	}
}

func TestShellCommandIsHighRisk(t *testing.T) {
	c := Classify("exec", map[string]any{"command": "make build"})
	if c == nil {
		t.Fatal("expected classification for shell execution")
	}
	if c.RiskLevel != model.RiskHigh {
		t.Errorf("expected high, got %s", c.RiskLevel)
	}
}

func TestReadOnlyToolIsNil(t *testing.T) {
	if c := Classify("read", map[string]any{"path": "/etc/hosts"}); c != nil {
		t.Errorf("expected nil for read-only tool, got %+v", c)
	}
}

func TestUnknownToolIsNil(t *testing.T) {
	if c := Classify("telescope", map[string]any{"target": "m31"}); c != nil {
		t.Errorf("expected nil for unknown tool, got %+v", c)
	}
}

func TestFileWriteExtractsPath(t *testing.T) {
	c := Classify("write", map[string]any{"path": "/a/b"})
	if c == nil {
		t.Fatal("expected classification for write")
	}
	if c.Category != model.CategoryFileOverwrite {
		t.Errorf("expected file_overwrite, got %s", c.Category)
	}
	if c.RiskLevel != model.RiskMedium {
		t.Errorf("expected medium, got %s", c.RiskLevel)
	}
	if len(c.Files) != 1 || c.Files[0] != "/a/b" {
		t.Errorf("expected files=[/a/b], got %v", c.Files)
	}
	if !strings.Contains(c.Description, "/a/b") {
		t.Errorf("description should name the path: %q", c.Description)
	}
}

func TestEditIsOverwriteFamily(t *testing.T) {
	c := Classify("edit_file", map[string]any{"file_path": "main.go"})
	if c == nil || c.Category != model.CategoryFileOverwrite {
		t.Fatalf("expected file_overwrite for edit, got %+v", c)
	}
}

func TestForcePushEscalates(t *testing.T) {
	normal := Classify("git", map[string]any{"command": "git push origin main"})
	force := Classify("git", map[string]any{"command": "git push --force origin main"})
	if normal == nil || force == nil {
		t.Fatal("expected classifications for git operations")
	}
	if model.RiskRank[force.RiskLevel] <= model.RiskRank[normal.RiskLevel] {
		t.Errorf("force push (%s) should outrank plain push (%s)", force.RiskLevel, normal.RiskLevel)
	}
}

func TestExtractFilesFromList(t *testing.T) {
	c := Classify("write", map[string]any{"path": []any{"/x", "/y"}})
	if c == nil || len(c.Files) != 2 {
		t.Fatalf("expected 2 files, got %+v", c)
	}
}

func TestDescriptionFormat(t *testing.T) {
	c := Classify("write", map[string]any{"path": "/tmp/out"})
	if c.Description != "Write operation on /tmp/out" {
		t.Errorf("unexpected description: %q", c.Description)
	}
}

// Package config loads overseer configuration from YAML, layering file
// values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/overseer/internal/budget"
	"github.com/ppiankov/overseer/internal/governor"
	"github.com/ppiankov/overseer/internal/sandbox"
)

// SandboxConfig groups the executor knobs.
type SandboxConfig struct {
	Limits   sandbox.Limits   `yaml:"limits"`
	Precheck sandbox.Precheck `yaml:"precheck"`
	// Runtime is the container CLI used by the container backend.
	Runtime string `yaml:"runtime"`
}

// SessionConfig groups per-session loop settings.
type SessionConfig struct {
	// Autonomy tier name: timid, cautious, balanced, bold, crazy.
	Autonomy string `yaml:"autonomy"`
	// MaxFailuresBeforePause is the consecutive-failure ceiling.
	MaxFailuresBeforePause int `yaml:"max_failures_before_pause"`
	// ApprovalTTLMinutes bounds how long a granted approval stays valid.
	ApprovalTTLMinutes int `yaml:"approval_ttl_minutes"`
}

// Config holds all configurable overseer parameters.
type Config struct {
	Session  SessionConfig   `yaml:"session"`
	Governor governor.Config `yaml:"governor"`
	Sandbox  SandboxConfig   `yaml:"sandbox"`
	Budget   budget.Budget   `yaml:"budget"`
	// AuditLog is the hash-chained telemetry log path.
	AuditLog string `yaml:"audit_log"`
	// ApprovalDir is the pending-approval store directory.
	ApprovalDir string `yaml:"approval_dir"`
	// SnapshotDB is the sqlite session-snapshot database path.
	SnapshotDB string `yaml:"snapshot_db"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".overseer")
	return &Config{
		Session: SessionConfig{
			Autonomy:               "balanced",
			MaxFailuresBeforePause: 3,
			ApprovalTTLMinutes:     60,
		},
		Governor: governor.DefaultConfig(),
		Sandbox: SandboxConfig{
			Limits:   sandbox.DefaultLimits(),
			Precheck: sandbox.DefaultPrecheck(),
			Runtime:  "docker",
		},
		Budget: budget.Budget{
			MaxActions: 200,
		},
		AuditLog:    filepath.Join(base, "audit.log"),
		ApprovalDir: filepath.Join(base, "pending"),
		SnapshotDB:  filepath.Join(base, "sessions.db"),
	}
}

// Load reads configuration from a YAML file.
// Empty path falls back to ~/.overseer/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = filepath.Join(home, ".overseer", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfigYAML returns a commented YAML string for overseer init.
func DefaultConfigYAML() string {
	return `# overseer configuration
# Generated by: overseer init

session:
  # Autonomy tier: timid | cautious | balanced | bold | crazy.
  # Controls the unsupervised-iteration ceiling (3/10/25/50/unlimited).
  autonomy: balanced
  # Pause for human review after this many consecutive failures.
  max_failures_before_pause: 3
  # A granted approval expires after this many minutes.
  approval_ttl_minutes: 60

governor:
  # Risk level at or above which an action needs human approval:
  # low | medium | high | critical.
  approval_threshold: high
  # Hard-block unrecoverable shell commands (recursive delete, disk
  # overwrite, fork bombs) instead of requesting approval.
  deny_catastrophic: true
  detector:
    # Loop detection looks at operations inside this trailing window.
    window_age: 60s
    window_count: 10
    min_samples: 3
    repeat_threshold: 3
    error_repeat_threshold: 3

sandbox:
  limits:
    max_time_ms: 30000
    max_memory_mb: 512
    allow_network: false
    allow_file_write: false
  precheck:
    # Escalate to the container backend above these thresholds.
    # Heuristics, not a security boundary.
    escalate_size_bytes: 10000
    escalate_func_defs: 10
  # Container CLI for the strongest-isolation backend (docker or podman).
  runtime: docker

budget:
  # Zero means unlimited for every dimension.
  max_tokens: 0
  max_cost_usd: 0
  max_duration_minutes: 0
  max_files_changed: 0
  max_actions: 200

# Paths default under ~/.overseer/ when omitted.
# audit_log: /var/lib/overseer/audit.log
# approval_dir: /var/lib/overseer/pending
# snapshot_db: /var/lib/overseer/sessions.db
`
}

// Package approval is the human-approval channel for actions the governor
// will not run unattended. Requests are files on disk so any process — the
// CLI, an editor plugin, a human with cat and mv — can resolve them.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/overseer/internal/model"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
)

// Resolved reports whether the status is a terminal human decision.
func (s Status) Resolved() bool {
	return s != StatusPending
}

// Request is a single approval request and its state.
type Request struct {
	Key         string          `json:"key"`
	Status      Status          `json:"status"`
	Description string          `json:"description"`
	RiskLevel   model.RiskLevel `json:"risk_level"`
	Files       []string        `json:"files,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// Store manages approval files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default approval store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "overseer-pending")
	}
	return filepath.Join(home, ".overseer", "pending")
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Submit creates a pending approval file for a classified action.
// No-op if a request with the same key already exists.
func (s *Store) Submit(key, description string, risk model.RiskLevel, files []string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	r := Request{
		Key:         key,
		Status:      StatusPending,
		Description: description,
		RiskLevel:   risk,
		Files:       files,
		CreatedAt:   time.Now().UTC(),
	}
	return s.writeAtomic(path, r)
}

// Approve marks a request as approved. If duration > 0, sets expiration.
// If duration == 0, the approval is one-time (consumed on first use).
func (s *Store) Approve(key string, duration time.Duration) error {
	return s.resolve(key, func(r *Request) {
		r.Status = StatusApproved
		if duration > 0 {
			exp := time.Now().UTC().Add(duration)
			r.ExpiresAt = &exp
		}
	})
}

// Deny marks a request as denied.
func (s *Store) Deny(key string) error {
	return s.resolve(key, func(r *Request) {
		r.Status = StatusDenied
	})
}

func (s *Store) resolve(key string, mutate func(*Request)) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}

	mutate(r)
	now := time.Now().UTC()
	r.ResolvedAt = &now
	return s.writeAtomic(s.path(key), *r)
}

// Check returns the current status of a request.
// Returns StatusExpired if an approved request has passed its deadline.
func (s *Store) Check(key string) (Status, error) {
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return "", fmt.Errorf("approval %q not found", key)
	}

	if r.Status == StatusApproved && r.ExpiresAt != nil && time.Now().UTC().After(*r.ExpiresAt) {
		r.Status = StatusExpired
		s.writeAtomic(s.path(key), *r)
		return StatusExpired, nil
	}

	return r.Status, nil
}

// Consume marks a one-time approval as consumed.
func (s *Store) Consume(key string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}

	if r.Status == StatusConsumed {
		return fmt.Errorf("approval %q already consumed", key)
	}

	r.Status = StatusConsumed
	now := time.Now().UTC()
	r.ResolvedAt = &now
	return s.writeAtomic(s.path(key), *r)
}

// List returns all requests in the store.
func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var requests []Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".json")
		r, err := s.read(key)
		if err != nil {
			continue
		}
		requests = append(requests, *r)
	}

	return requests, nil
}

// Cleanup removes all request files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Request, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt approval file: %w", err)
	}
	return &r, nil
}

// writeAtomic writes via tmp + rename to prevent partial reads.
func (s *Store) writeAtomic(path string, r Request) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write approval: %w", err)
	}
	return os.Rename(tmp, path)
}

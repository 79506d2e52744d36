// Package require tracks the requirements an autonomous task must satisfy:
// parsed from task text, mutated in place as work progresses, and queried
// for completion. The tracker is single-writer by design; its internal
// mutex serializes callbacks from concurrent tool completions.
package require

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a requirement's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Priority orders requirements for planning.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityRank maps priorities to sort order (lower sorts first).
var PriorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Source records where a requirement came from.
type Source string

const (
	SourceOriginal Source = "original"
	SourceDerived  Source = "derived"
)

// CriterionStatus is an acceptance criterion's state. It only advances
// forward except on explicit reset.
type CriterionStatus string

const (
	CriterionPending    CriterionStatus = "pending"
	CriterionInProgress CriterionStatus = "in_progress"
	CriterionPassed     CriterionStatus = "passed"
)

var criterionRank = map[CriterionStatus]int{
	CriterionPending:    0,
	CriterionInProgress: 1,
	CriterionPassed:     2,
}

// Criterion is one acceptance criterion of a requirement.
type Criterion struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Status      CriterionStatus `json:"status"`
}

// Requirement is one trackable unit of work, created once per parsed
// statement and mutated in place.
type Requirement struct {
	ID                 string      `json:"id"`
	Description        string      `json:"description"`
	Status             Status      `json:"status"`
	Priority           Priority    `json:"priority"`
	Source             Source      `json:"source"`
	AcceptanceCriteria []Criterion `json:"acceptance_criteria,omitempty"`
	Dependencies       []string    `json:"dependencies,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Stats is the aggregate progress snapshot, recomputed on every call.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
	Derived    int `json:"derived"`
	Percentage int `json:"percentage"`
}

// Tracker owns the requirement set for one session.
type Tracker struct {
	mu   sync.Mutex
	reqs []*Requirement
	byID map[string]*Requirement
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{byID: make(map[string]*Requirement)}
}

// ParseRequirements splits text into statement-like units and appends one
// pending requirement per unit. Repeated calls append, never replace.
// Returns the requirements created by this call.
func (t *Tracker) ParseRequirements(text string) []*Requirement {
	statements := splitStatements(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	created := make([]*Requirement, 0, len(statements))
	for _, stmt := range statements {
		r := &Requirement{
			ID:          uuid.NewString(),
			Description: stmt,
			Status:      StatusPending,
			Priority:    priorityFor(stmt),
			Source:      SourceOriginal,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		t.reqs = append(t.reqs, r)
		t.byID[r.ID] = r
		created = append(created, r)
	}
	return created
}

// AddDerived appends a requirement discovered mid-execution.
func (t *Tracker) AddDerived(description string, priority Priority, dependencies []string) *Requirement {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	r := &Requirement{
		ID:           uuid.NewString(),
		Description:  description,
		Status:       StatusPending,
		Priority:     priority,
		Source:       SourceDerived,
		Dependencies: dependencies,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.reqs = append(t.reqs, r)
	t.byID[r.ID] = r
	return r
}

// Restore appends previously persisted requirements, keeping their ids
// and timestamps. Used when resuming a session from a snapshot.
func (t *Tracker) Restore(reqs []Requirement) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range reqs {
		r := reqs[i]
		if _, exists := t.byID[r.ID]; exists {
			continue
		}
		t.reqs = append(t.reqs, &r)
		t.byID[r.ID] = &r
	}
}

// UpdateStatus mutates a requirement's status in place. Unknown ids are a
// logged no-op, never an error.
func (t *Tracker) UpdateStatus(id string, status Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[id]
	if !ok {
		log.Printf("require: update for unknown requirement %q ignored", id)
		return false
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return true
}

// AddCriterion attaches an acceptance criterion to a requirement.
func (t *Tracker) AddCriterion(reqID, description string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[reqID]
	if !ok {
		log.Printf("require: criterion for unknown requirement %q ignored", reqID)
		return "", false
	}
	c := Criterion{ID: uuid.NewString(), Description: description, Status: CriterionPending}
	r.AcceptanceCriteria = append(r.AcceptanceCriteria, c)
	r.UpdatedAt = time.Now().UTC()
	return c.ID, true
}

// UpdateCriterionStatus advances a criterion's status. Backward moves are
// ignored — status only advances except via ResetCriterion. Unknown ids
// are a logged no-op.
func (t *Tracker) UpdateCriterionStatus(reqID, criterionID string, status CriterionStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[reqID]
	if !ok {
		log.Printf("require: criterion update for unknown requirement %q ignored", reqID)
		return false
	}
	for i := range r.AcceptanceCriteria {
		c := &r.AcceptanceCriteria[i]
		if c.ID != criterionID {
			continue
		}
		if criterionRank[status] < criterionRank[c.Status] {
			return false
		}
		c.Status = status
		r.UpdatedAt = time.Now().UTC()
		return true
	}
	log.Printf("require: update for unknown criterion %q ignored", criterionID)
	return false
}

// ResetCriterion explicitly moves a criterion back to pending.
func (t *Tracker) ResetCriterion(reqID, criterionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[reqID]
	if !ok {
		return false
	}
	for i := range r.AcceptanceCriteria {
		if r.AcceptanceCriteria[i].ID == criterionID {
			r.AcceptanceCriteria[i].Status = CriterionPending
			r.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// Get returns a copy of the requirement, or false.
func (t *Tracker) Get(id string) (Requirement, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if !ok {
		return Requirement{}, false
	}
	return *r, true
}

// All returns copies of all requirements in creation order.
func (t *Tracker) All() []Requirement {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Requirement, len(t.reqs))
	for i, r := range t.reqs {
		out[i] = *r
	}
	return out
}

// Pending returns copies of all non-completed, non-blocked requirements.
func (t *Tracker) Pending() []Requirement {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Requirement
	for _, r := range t.reqs {
		if r.Status == StatusPending || r.Status == StatusInProgress {
			out = append(out, *r)
		}
	}
	return out
}

// AllCompleted reports whether every requirement is completed.
// False when the tracker is empty: no parsed requirements means nothing
// has been demonstrated done.
func (t *Tracker) AllCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.reqs) == 0 {
		return false
	}
	for _, r := range t.reqs {
		if r.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// CompletionPercentage returns completed/total×100, rounded; 0 when empty.
func (t *Tracker) CompletionPercentage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.reqs) == 0 {
		return 0
	}
	completed := 0
	for _, r := range t.reqs {
		if r.Status == StatusCompleted {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(t.reqs)) * 100))
}

// Stats recomputes the aggregate snapshot. Never cached.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{Total: len(t.reqs)}
	for _, r := range t.reqs {
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusBlocked:
			s.Blocked++
		}
		if r.Source == SourceDerived {
			s.Derived++
		}
	}
	if s.Total > 0 {
		s.Percentage = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s
}

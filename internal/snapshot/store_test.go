package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/overseer/internal/budget"
	"github.com/ppiankov/overseer/internal/model"
	"github.com/ppiankov/overseer/internal/phase"
	"github.com/ppiankov/overseer/internal/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	snap := Snapshot{
		SessionID: "sess-1",
		Phase:     phase.Scoring,
		Autonomy:  "cautious",
		Iteration: 7,
		Usage:     budget.Usage{Tokens: 1200, CostUSD: 0.35, Actions: 9, FilesChanged: 2},
		Operations: []model.Operation{
			{ID: "op-1", Timestamp: now.Add(-time.Minute), Tool: "shell", Input: map[string]any{"command": "go test"}, Error: "exit 1"},
			{ID: "op-2", Timestamp: now, Tool: "write", Input: map[string]any{"path": "/tmp/x"}, Result: "ok"},
		},
		Requirements: []require.Requirement{
			{ID: "r-1", Description: "Implement X", Status: require.StatusInProgress, Priority: require.PriorityHigh, Source: require.SourceOriginal},
		},
		UpdatedAt: now,
	}

	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if got.Phase != phase.Scoring {
		t.Errorf("phase lost: %s", got.Phase)
	}
	if got.Iteration != 7 || got.Autonomy != "cautious" {
		t.Errorf("session fields lost: %+v", got)
	}
	if got.Usage.Tokens != 1200 || got.Usage.FilesChanged != 2 {
		t.Errorf("usage lost: %+v", got.Usage)
	}
	if len(got.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(got.Operations))
	}
	if got.Operations[0].ID != "op-1" || got.Operations[1].ID != "op-2" {
		t.Errorf("operation order lost: %+v", got.Operations)
	}
	if got.Operations[0].Error != "exit 1" {
		t.Errorf("operation error lost: %q", got.Operations[0].Error)
	}
	if got.Operations[0].Input["command"] != "go test" {
		t.Errorf("operation input lost: %v", got.Operations[0].Input)
	}
	if !got.Operations[1].Timestamp.Equal(now) {
		t.Errorf("timestamp lost: %s vs %s", got.Operations[1].Timestamp, now)
	}
	if len(got.Requirements) != 1 || got.Requirements[0].Status != require.StatusInProgress {
		t.Errorf("requirements lost: %+v", got.Requirements)
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := Snapshot{
		SessionID:  "sess-1",
		Phase:      phase.Executing,
		Operations: []model.Operation{{ID: "op-1", Timestamp: time.Now(), Tool: "shell"}},
	}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := first
	second.Phase = phase.Paused
	second.Operations = []model.Operation{
		{ID: "op-1", Timestamp: time.Now(), Tool: "shell"},
		{ID: "op-2", Timestamp: time.Now(), Tool: "write"},
	}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Phase != phase.Paused {
		t.Errorf("phase not replaced: %s", got.Phase)
	}
	if len(got.Operations) != 2 {
		t.Errorf("operations not replaced: %d", len(got.Operations))
	}
}

func TestLoadUnknownSession(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.Load(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("unknown session must report not found, not an error")
	}
}

func TestSaveRejectsEmptySessionID(t *testing.T) {
	s := openStore(t)
	if err := s.Save(context.Background(), Snapshot{}); err == nil {
		t.Error("empty session id must be rejected")
	}
}

func TestSessionsAndDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b"} {
		snap := Snapshot{SessionID: id, Phase: phase.Planning, UpdatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.Save(ctx, snap); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	ids, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(ids) != 2 || ids[0] != "b" {
		t.Errorf("expected most-recent-first [b a], got %v", ids)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Load(ctx, "b"); ok {
		t.Error("deleted session still loadable")
	}
	if _, ok, _ := s.Load(ctx, "a"); !ok {
		t.Error("delete removed the wrong session")
	}
}

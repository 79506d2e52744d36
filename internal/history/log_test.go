package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/ppiankov/overseer/internal/model"
)

func opAt(ts time.Time, tool string) model.Operation {
	return model.Operation{ID: tool, Timestamp: ts, Tool: tool}
}

func TestWindowAgeCutoff(t *testing.T) {
	now := time.Now().UTC()
	l := New()
	l.Append(opAt(now.Add(-5*time.Minute), "old"))
	l.Append(opAt(now.Add(-30*time.Second), "recent1"))
	l.Append(opAt(now.Add(-10*time.Second), "recent2"))

	got := l.Window(now, time.Minute, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 ops inside 60s window, got %d", len(got))
	}
	if got[0].Tool != "recent1" || got[1].Tool != "recent2" {
		t.Errorf("unexpected window contents: %v, %v", got[0].Tool, got[1].Tool)
	}
}

func TestWindowCountBound(t *testing.T) {
	now := time.Now().UTC()
	l := New()
	for i := 0; i < 20; i++ {
		l.Append(opAt(now.Add(time.Duration(i-20)*time.Second), fmt.Sprintf("op%d", i)))
	}

	got := l.Window(now, time.Hour, 10)
	if len(got) != 10 {
		t.Fatalf("expected count bound of 10, got %d", len(got))
	}
	if got[0].Tool != "op10" {
		t.Errorf("expected window to start at op10, got %s", got[0].Tool)
	}
}

func TestWindowBothBounds(t *testing.T) {
	now := time.Now().UTC()
	l := New()
	// 3 stale, 5 fresh.
	for i := 0; i < 3; i++ {
		l.Append(opAt(now.Add(-10*time.Minute), "stale"))
	}
	for i := 0; i < 5; i++ {
		l.Append(opAt(now.Add(-time.Duration(5-i)*time.Second), "fresh"))
	}

	got := l.Window(now, time.Minute, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	for _, op := range got {
		if op.Tool != "fresh" {
			t.Errorf("stale operation leaked into window: %s", op.Tool)
		}
	}
}

func TestWindowEmptyLog(t *testing.T) {
	l := New()
	if got := l.Window(time.Now(), time.Minute, 10); len(got) != 0 {
		t.Errorf("expected empty window, got %d", len(got))
	}
}

func TestAppendClampsOutOfOrderTimestamp(t *testing.T) {
	now := time.Now().UTC()
	l := New()
	l.Append(opAt(now, "a"))
	l.Append(opAt(now.Add(-time.Hour), "b"))

	all := l.All()
	if all[1].Timestamp.Before(all[0].Timestamp) {
		t.Error("timestamps are not monotonic after clamp")
	}
}

func TestWindowCopyIsStable(t *testing.T) {
	now := time.Now().UTC()
	l := New()
	l.Append(opAt(now, "a"))
	got := l.Window(now.Add(time.Second), time.Minute, 0)
	l.Append(opAt(now.Add(time.Millisecond), "b"))

	if len(got) != 1 || got[0].Tool != "a" {
		t.Error("window snapshot mutated by later append")
	}
}

func TestReset(t *testing.T) {
	l := New()
	l.Append(model.Operation{Tool: "x"})
	l.Reset()
	if l.Len() != 0 {
		t.Errorf("expected empty log after reset, got %d", l.Len())
	}
}

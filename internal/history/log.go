// Package history holds the append-only operation log for one session.
// Window trimming happens at read time via an index cursor, so appends
// never rewrite the backing slice and per-cycle detection cost stays
// proportional to the window, not the session.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/overseer/internal/model"
)

// Log is an append-only, timestamp-monotonic operation history.
type Log struct {
	mu  sync.RWMutex
	ops []model.Operation
}

// New creates an empty Log.
func New() *Log {
	return &Log{}
}

// Append adds one operation. A zero timestamp is stamped with the current
// time. Timestamps must be monotonic within a session; an out-of-order
// timestamp is clamped to the previous entry's to preserve the invariant.
func (l *Log) Append(op model.Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	if n := len(l.ops); n > 0 && op.Timestamp.Before(l.ops[n-1].Timestamp) {
		op.Timestamp = l.ops[n-1].Timestamp
	}
	l.ops = append(l.ops, op)
}

// Len returns the total number of operations recorded.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// Window returns the operations inside the trailing window bounded by both
// age and count. The age cursor is found by binary search over timestamps;
// the count bound then keeps only the most recent maxCount entries.
// A non-positive bound disables that dimension. The returned slice is a
// copy and safe to hold across later appends.
func (l *Log) Window(now time.Time, maxAge time.Duration, maxCount int) []model.Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		start = sort.Search(len(l.ops), func(i int) bool {
			return !l.ops[i].Timestamp.Before(cutoff)
		})
	}
	if maxCount > 0 && len(l.ops)-start > maxCount {
		start = len(l.ops) - maxCount
	}

	out := make([]model.Operation, len(l.ops)-start)
	copy(out, l.ops[start:])
	return out
}

// All returns a copy of the full history, oldest first.
func (l *Log) All() []model.Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// Reset discards all recorded operations.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
}

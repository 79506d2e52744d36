package approval

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollFallback is the polling interval used when fsnotify is unavailable,
// and as a safety net against missed events (editors that write via rename
// chains can slip past a single watch).
const pollFallback = 2 * time.Second

// WaitResolved blocks until the request reaches a resolved status or ctx is
// cancelled. It watches the store directory with fsnotify and re-checks on
// every write to the request's file, with a coarse poll as fallback.
func (s *Store) WaitResolved(ctx context.Context, key string) (Status, error) {
	if status, err := s.Check(key); err != nil {
		return "", err
	} else if status.Resolved() {
		return status, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(s.dir); err != nil {
			watcher = nil
		}
	} else {
		watcher = nil
	}

	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	target := s.path(key)
	for {
		var recheck bool
		if watcher != nil {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case ev, ok := <-watcher.Events:
				if !ok {
					watcher = nil
					continue
				}
				recheck = strings.HasPrefix(ev.Name, target)
			case _, ok := <-watcher.Errors:
				if !ok {
					watcher = nil
				}
				continue
			case <-ticker.C:
				recheck = true
			}
		} else {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-ticker.C:
				recheck = true
			}
		}

		if !recheck {
			continue
		}
		status, err := s.Check(key)
		if err != nil {
			continue // transient: file may be mid-rename
		}
		if status.Resolved() {
			return status, nil
		}
	}
}

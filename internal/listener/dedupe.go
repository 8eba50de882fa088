// internal/listener/dedupe.go
package listener

import "sync"

// dedupe is a bounded seen-set. Reconnects replay recent log
// notifications, so every signature passes through here before it can
// start an entry.
type dedupe struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newDedupe(limit int) *dedupe {
	return &dedupe{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

// MarkSeen records sig and reports whether it was new. The oldest entry
// is evicted once the limit is reached.
func (d *dedupe) MarkSeen(sig string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[sig]; ok {
		return false
	}

	if len(d.order) >= d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}

	d.seen[sig] = struct{}{}
	d.order = append(d.order, sig)
	return true
}

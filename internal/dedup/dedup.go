// Package dedup implements the server-side effect window: a message
// identifier seen inside an incident within the TTL is acknowledged again
// but never re-executed.
package dedup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sweepInterval = time.Minute

// Window tracks first-sighting times of message identifiers per incident.
type Window struct {
	log *zap.Logger
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]map[string]time.Time // incidentId → msgId → firstSeen
}

// NewWindow creates a Window with the given effect TTL.
func NewWindow(ttl time.Duration, log *zap.Logger) *Window {
	return &Window{
		log:  log,
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]map[string]time.Time),
	}
}

// MarkIfNew atomically records (incidentID, msgID) and reports whether this
// is its first sighting inside the TTL. An entry older than the TTL is
// treated as expired and re-marked as new.
func (w *Window) MarkIfNew(incidentID, msgID string) bool {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	byMsg, ok := w.seen[incidentID]
	if !ok {
		byMsg = make(map[string]time.Time)
		w.seen[incidentID] = byMsg
	}
	if first, ok := byMsg[msgID]; ok && now.Sub(first) <= w.ttl {
		return false
	}
	byMsg[msgID] = now
	return true
}

// Sweep drops entries older than the TTL and removes emptied incident maps.
// It returns the number of entries removed.
func (w *Window) Sweep() int {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for incidentID, byMsg := range w.seen {
		for msgID, first := range byMsg {
			if now.Sub(first) > w.ttl {
				delete(byMsg, msgID)
				removed++
			}
		}
		if len(byMsg) == 0 {
			delete(w.seen, incidentID)
		}
	}
	return removed
}

// Run sweeps once per minute until ctx is cancelled.
func (w *Window) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.Sweep(); n > 0 {
				w.log.Debug("dedup: swept expired entries", zap.Int("removed", n))
			}
		}
	}
}

// Len returns the number of live entries for an incident.
func (w *Window) Len(incidentID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen[incidentID])
}

// Package activity keeps the recent operation log of the updater in memory
// and mirrors every entry to the process logger.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of entries retained.
const DefaultCapacity = 500

// Ring is a bounded ports.ActivityLog. The oldest entries are overwritten.
type Ring struct {
	mu      sync.RWMutex
	entries []domain.ActivityEntry
	next    int
	full    bool
	logger  log.FieldLogger
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]domain.ActivityEntry, capacity), logger: log.StandardLogger()}
}

// Record stores entry and writes it to the logger at its level.
func (r *Ring) Record(_ context.Context, entry domain.ActivityEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	if entry.Level == "" {
		entry.Level = "info"
	}

	r.mu.Lock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	logger := r.logger
	if entry.Session != "" {
		logger = logger.WithField("session", entry.Session)
	}
	switch entry.Level {
	case "error":
		logger.Error(entry.Message)
	case "warn":
		logger.Warn(entry.Message)
	default:
		logger.Info(entry.Message)
	}
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (r *Ring) Recent(limit int) []domain.ActivityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]domain.ActivityEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

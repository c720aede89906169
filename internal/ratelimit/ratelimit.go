// Package ratelimit bounds per-client request rates ahead of the chat
// relay so a single caller cannot exhaust the upstream generator.
package ratelimit

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultWindow and DefaultMaxRequests mirror the deployment
	// defaults: at most 10 admitted requests per trailing minute.
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 10
)

// Limiter decides whether one request attempt from a client identity
// is admitted. Rejected attempts are not counted against the quota.
type Limiter interface {
	Admit(clientID string, now time.Time) bool
}

// Window is a process-local sliding-window limiter. Each client keeps
// an ordered log of admitted-request timestamps; entries older than
// the window are pruned lazily on the next attempt. Client entries
// live in a TTL cache so memory is bounded by active-client count,
// not historical-client count.
type Window struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	clients *gocache.Cache
}

// NewWindow builds a limiter admitting at most max requests per client
// within any trailing window.
func NewWindow(window time.Duration, max int) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	return &Window{
		window: window,
		max:    max,
		// Idle clients expire after two windows; by then their
		// logs would prune to empty anyway.
		clients: gocache.New(2*window, window),
	}
}

// Admit prunes the client's log, rejects at quota, and records the
// attempt only when admitted. The bound is exact: timestamps are kept
// at full precision, not bucketed.
func (w *Window) Admit(clientID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stamps []time.Time
	if v, ok := w.clients.Get(clientID); ok {
		stamps = v.([]time.Time)
	}

	cutoff := now.Add(-w.window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	admitted := len(kept) < w.max
	if admitted {
		kept = append(kept, now)
	}
	w.clients.Set(clientID, kept, gocache.DefaultExpiration)
	return admitted
}

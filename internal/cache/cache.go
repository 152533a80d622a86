// Package cache stores the most recent translated sample snapshot per
// target and serves it to scrapes independently of poll health.
//
// Each target has exactly one writer, its poller goroutine. Readers get
// value copies, so a scrape never observes a snapshot mid-update.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/prismflow/nutanix-exporter/internal/metrics"
)

// Entry is the cached state of one target.
type Entry struct {
	// Samples is the snapshot from the last successful poll. It stays
	// available after later failures so scrapes keep serving data.
	Samples []metrics.Sample `json:"-"`

	// TakenAt is when the snapshot's poll completed.
	TakenAt time.Time `json:"taken_at"`

	// Generation increments on every successful poll, never on failure.
	Generation uint64 `json:"generation"`

	// Stale is true when the most recent poll attempt failed and the
	// samples predate it.
	Stale bool `json:"stale"`

	// LastPollOK reports whether the most recent attempt succeeded.
	LastPollOK bool `json:"last_poll_ok"`

	// LastError is the message of the most recent failed poll. It is
	// retained after recovery; check LastPollOK for current health.
	LastError string `json:"last_error,omitempty"`

	// LastErrorAt is when the most recent failed poll finished.
	LastErrorAt time.Time `json:"last_error_at"`

	// LastAttempt is when the most recent poll finished, successful or not.
	LastAttempt time.Time `json:"last_attempt"`
}

// Fresh reports whether the snapshot is current: the most recent poll
// succeeded and the data is at most two poll intervals old. A snapshot can
// go unfresh without a recorded failure when its poller stalls.
func (e Entry) Fresh(now time.Time, interval time.Duration) bool {
	return e.LastPollOK && !e.Stale && now.Sub(e.TakenAt) <= 2*interval
}

// copy returns a value copy of the entry. Sample label slices are never
// mutated after translation, so copying the outer slice is enough.
func (e *Entry) copy() Entry {
	out := *e
	if e.Samples != nil {
		out.Samples = make([]metrics.Sample, len(e.Samples))
		copy(out.Samples, e.Samples)
	}
	return out
}

// Cache holds one entry per target.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Put replaces the target's snapshot after a successful poll.
func (c *Cache) Put(target string, samples []metrics.Sample, takenAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(target)
	e.Samples = samples
	e.TakenAt = takenAt
	e.Generation++
	e.Stale = false
	e.LastPollOK = true
	e.LastAttempt = takenAt
}

// Fail records a failed poll attempt. A previous snapshot, if any, stays
// served and is marked stale. The generation does not change.
func (c *Cache) Fail(target string, err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(target)
	e.Stale = true
	e.LastPollOK = false
	if err != nil {
		e.LastError = err.Error()
	}
	e.LastErrorAt = at
	e.LastAttempt = at
}

// Get returns a copy of the target's entry.
func (c *Cache) Get(target string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[target]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

// Snapshot returns a copy of every entry keyed by target name.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Entry, len(c.entries))
	for target, e := range c.entries {
		out[target] = e.copy()
	}
	return out
}

// Targets returns the known target names in sorted order.
func (c *Cache) Targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, 0, len(c.entries))
	for target := range c.entries {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Len returns the number of targets with an entry.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats summarizes the cache for status reporting.
type Stats struct {
	Targets int `json:"targets"`
	Stale   int `json:"stale"`
	Samples int `json:"samples"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Targets: len(c.entries)}
	for _, e := range c.entries {
		if e.Stale {
			s.Stale++
		}
		s.Samples += len(e.Samples)
	}
	return s
}

func (c *Cache) entry(target string) *Entry {
	e, ok := c.entries[target]
	if !ok {
		e = &Entry{}
		c.entries[target] = e
	}
	return e
}

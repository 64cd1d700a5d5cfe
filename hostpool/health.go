package hostpool

import (
	"sync"
	"time"

	"pkt.systems/hsearch/internal/clock"
)

// Status is the last observed health of one host.
type Status struct {
	Up         bool
	LastChange time.Time
}

// Tracker records per-host success and failure. It is safe for concurrent use
// and is meant to be owned by a single client.
type Tracker struct {
	clock clock.Clock

	mu    sync.Mutex
	hosts map[string]Status
}

// NewTracker returns an empty tracker. A nil clock uses wall time.
func NewTracker(c clock.Clock) *Tracker {
	return &Tracker{
		clock: clock.Or(c),
		hosts: make(map[string]Status),
	}
}

// RecordSuccess marks host as up as of now.
func (t *Tracker) RecordSuccess(host string) {
	t.set(host, true)
}

// RecordFailure marks host as down as of now.
func (t *Tracker) RecordFailure(host string) {
	t.set(host, false)
}

func (t *Tracker) set(host string, up bool) {
	now := t.clock.Now()
	t.mu.Lock()
	t.hosts[host] = Status{Up: up, LastChange: now}
	t.mu.Unlock()
}

// IsEligible reports whether host may be tried. Unknown hosts and hosts that
// are up are always eligible; a down host becomes eligible again once
// coolDown has elapsed since it was marked.
func (t *Tracker) IsEligible(host string, coolDown time.Duration) bool {
	t.mu.Lock()
	st, ok := t.hosts[host]
	t.mu.Unlock()
	if !ok || st.Up {
		return true
	}
	return t.clock.Now().Sub(st.LastChange) >= coolDown
}

// Status returns the recorded status of host and whether one exists.
func (t *Tracker) Status(host string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.hosts[host]
	return st, ok
}

// Snapshot copies every recorded status.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(t.hosts))
	for h, st := range t.hosts {
		out[h] = st
	}
	return out
}

// Reset forgets all recorded statuses.
func (t *Tracker) Reset() {
	t.mu.Lock()
	clear(t.hosts)
	t.mu.Unlock()
}

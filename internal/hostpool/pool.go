// Package hostpool tracks the health of the configured inference hosts and
// picks one per request. Host state is owned exclusively by the pool; other
// components only ever see a host URL handed out by Select.
package hostpool

import (
	"log/slog"
	"sync"
	"time"
)

type hostState struct {
	url string
	// until is zero while the host is available; otherwise the host is
	// unavailable until this instant passes.
	until time.Time
}

// Pool is a thread-safe, non-blocking host selector with failover.
// Select never waits: when every host is unavailable it reports none and
// the caller decides how to back off.
type Pool struct {
	mu                  sync.Mutex
	hosts               []hostState
	last                int
	unavailableDuration time.Duration

	now func() time.Time
	log *slog.Logger
}

// New creates a pool over the given host URLs. A host that fails is held
// out of rotation for unavailableDuration.
func New(hosts []string, unavailableDuration time.Duration, log *slog.Logger) *Pool {
	states := make([]hostState, len(hosts))
	for i, h := range hosts {
		states[i] = hostState{url: h}
	}
	return &Pool{
		hosts:               states,
		last:                -1,
		unavailableDuration: unavailableDuration,
		now:                 time.Now,
		log:                 log,
	}
}

// SetClock replaces the pool's time source. Tests use this to drive
// unavailability expiry without sleeping.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Len returns the number of configured hosts, healthy or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

// Select returns the next eligible host in round-robin order, starting
// after the last selected index. A host whose unavailability window has
// elapsed transitions back to available before selection. Reports false
// when every host is currently unavailable.
func (p *Pool) Select() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.hosts)
	if n == 0 {
		return "", false
	}
	now := p.now()
	for i := 1; i <= n; i++ {
		idx := (p.last + i) % n
		h := &p.hosts[idx]
		if !h.until.IsZero() {
			if now.Before(h.until) {
				continue
			}
			h.until = time.Time{}
			p.log.Debug("host recovered after unavailability window", "host", h.url)
		}
		p.last = idx
		return h.url, true
	}
	return "", false
}

// ReportFailure marks the host unavailable for the configured duration.
// Repeated failures while already unavailable do not extend the window.
func (p *Pool) ReportFailure(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.hosts {
		h := &p.hosts[i]
		if h.url != host {
			continue
		}
		if !h.until.IsZero() && p.now().Before(h.until) {
			return
		}
		h.until = p.now().Add(p.unavailableDuration)
		p.log.Warn("host marked unavailable", "host", host, "until", h.until)
		return
	}
}

// ReportSuccess returns the host to rotation immediately, whatever its
// prior state.
func (p *Pool) ReportSuccess(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.hosts {
		if p.hosts[i].url == host {
			p.hosts[i].until = time.Time{}
			return
		}
	}
}

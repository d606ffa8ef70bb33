// Package pool implements the connection pool described in
// SPEC_FULL.md §4.5: membership keyed by HostPort; H1 entries are only
// handed out when they have zero unfinished requests, H2 entries are
// always handed out (multiplexed); eviction is explicit (error) or
// implicit (non-reusable framing). There is no idle timer in the core.
//
// Grounded on the teacher's pkg/transport/transport.go hostPool
// (sync.Map of per-host pools, LIFO idle slice), restructured: the
// teacher pools raw net.Conns with a staleness/liveness prober and an
// idle-timeout reaper goroutine; this pool instead holds protocol-aware
// Entry handles (H1 or H2) and defers reuse-eligibility entirely to the
// entry's own IsReusable(), matching "membership key is the HostPort...
// For H1 a connection is returned only if unfinished_requests == 0"
// rather than a time-based staleness heuristic. The idle-timer reaper
// is intentionally dropped — SPEC_FULL.md §4.5 says operators may layer
// one outside the core.
package pool

import (
	"sync"

	"github.com/wiretide/httpcore/pkg/h1"
	"github.com/wiretide/httpcore/pkg/h2"
	"github.com/wiretide/httpcore/pkg/wire"
)

// Protocol tags which engine backs an Entry.
type Protocol int

const (
	ProtoH1 Protocol = iota
	ProtoH2
)

// Entry is one pooled connection: its HostPort identity, protocol
// variant, and either an *h1.Conn or an *h2.Connection.
type Entry struct {
	HostPort wire.HostPort
	Protocol Protocol
	H1       *h1.Conn
	H2       *h2.Connection

	evicted bool
}

// IsReusable reports whether this entry may currently be handed out
// again: H2 entries always are (multiplexed); H1 entries only when
// Ready (zero unfinished requests) and not evicted.
func (e *Entry) IsReusable() bool {
	if e.evicted {
		return false
	}
	if e.Protocol == ProtoH2 {
		return !e.H2.Closed
	}
	return e.H1.State() == h1.Ready
}

// Pool maps HostPort → candidate entries.
type Pool struct {
	mu      sync.Mutex
	entries map[wire.HostPort][]*Entry
}

func New() *Pool {
	return &Pool{entries: make(map[wire.HostPort][]*Entry)}
}

// Get returns the first reusable entry registered for hp, in
// registration order: an H2 entry is always reusable (it multiplexes),
// an H1 entry only when Ready. Closed and evicted entries are dropped
// from the list along the way.
func (p *Pool) Get(hp wire.HostPort) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.entries[hp]
	kept := list[:0]
	var found *Entry
	for _, e := range list {
		if e.evicted || (e.Protocol == ProtoH1 && e.H1.State() == h1.Closed) {
			continue // drop closed/evicted entries before the next search
		}
		kept = append(kept, e)
		if found == nil && e.IsReusable() {
			found = e
		}
	}
	p.entries[hp] = kept
	return found, found != nil
}

// Put registers a new entry under its HostPort.
func (p *Pool) Put(e *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[e.HostPort] = append(p.entries[e.HostPort], e)
}

// Evict explicitly marks an entry unusable (e.g. after an I/O error, or
// when a 307/308 redirect would otherwise half-send a body on a shared
// H1 connection, per SPEC_FULL.md §4.4 step 2d).
func (p *Pool) Evict(e *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.evicted = true
	if e.Protocol == ProtoH1 {
		e.H1.Close()
	} else {
		e.H2.Close()
	}
}

// Clear drops every pooled entry, used when pooling is disabled
// (SPEC_FULL.md §4.4: "pooling: bool (default on) — off clears the pool").
func (p *Pool) Clear() {
	p.mu.Lock()
	old := p.entries
	p.entries = make(map[wire.HostPort][]*Entry)
	p.mu.Unlock()
	// Evict takes p.mu itself, so it runs after the lock is released.
	for _, list := range old {
		for _, e := range list {
			p.Evict(e)
		}
	}
}

// Stats reports a coarse per-host connection count, mirroring the
// teacher's PoolStats surface without the staleness/wait-timeout
// metrics that no longer apply to this pool's simpler reuse model.
type Stats struct {
	TotalConnections int
	PerHost          map[string]int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{PerHost: make(map[string]int)}
	for hp, list := range p.entries {
		s.PerHost[hp.String()] = len(list)
		s.TotalConnections += len(list)
	}
	return s
}

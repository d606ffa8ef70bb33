// Package timing measures per-phase latency for a single request/response
// exchange, attached to Response.Ext["timing"] per SPEC_FULL.md's request
// lifecycle observability section.
package timing

import (
	"fmt"
	"time"
)

// Metrics is the timing breakdown for one exchange. DNSLookup and
// TLSHandshake are populated only when the caller's dialer reports those
// phases separately; wire.Connect currently folds dial and TLS negotiation
// into a single span recorded under TCPConnect.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup,omitempty"`
	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake,omitempty"`
	TTFB         time.Duration `json:"ttfb"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer accumulates phase start/end marks for one exchange.
type Timer struct {
	start     time.Time
	dnsStart  time.Time
	dnsEnd    time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	tlsStart  time.Time
	tlsEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer starts a timing session anchored at the current request's entry.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS() { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()   { t.dnsEnd = time.Now() }

// StartTCP marks the beginning of Agent.obtain — dial plus, for TLS
// targets, the handshake wire.Connect performs inline.
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()   { t.tcpEnd = time.Now() }

func (t *Timer) StartTLS() { t.tlsStart = time.Now() }
func (t *Timer) EndTLS()   { t.tlsEnd = time.Now() }

// StartTTFB marks when the request has been written and the agent begins
// waiting on the response head.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }
func (t *Timer) EndTTFB()   { t.ttfbEnd = time.Now() }

// GetMetrics folds the marked phases into a Metrics snapshot. A phase left
// unmarked (start or end zero) reports as zero rather than a bogus duration.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// GetConnectionTime is the total time spent establishing the connection
// (DNS + TCP dial + TLS, whichever phases were marked).
func (m Metrics) GetConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// GetServerTime is the time spent waiting for the first response byte.
func (m Metrics) GetServerTime() time.Duration {
	return m.TTFB
}

// GetNetworkTime is TotalTime minus server processing time.
func (m Metrics) GetNetworkTime() time.Duration {
	return m.TotalTime - m.TTFB
}

func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, TTFB: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}

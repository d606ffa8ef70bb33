// Package h2 adapts golang.org/x/net/http2's low-level Framer/hpack
// pair into the same abstract send/receive-stream contract pkg/h1
// exposes, plus the BDP (bandwidth-delay product) monitor that resizes
// the HTTP/2 receive window.
//
// Grounded on the teacher's pkg/http2/client.go (frame send/receive
// loop, pseudo-header ordering, window-update-per-chunk flow control)
// for the adapter, and on original_source/src/bw.rs (ported numerically
// exactly) for the BDP algorithm, which the teacher does not implement.
package h2

import (
	"sync"
	"time"
)

// bdpLimit caps the window size the monitor will ever advise, per
// SPEC_FULL.md §4.2 ("capped at 16 MiB").
const bdpLimit = 16 * 1024 * 1024

// rttAlpha is the EMA smoothing factor for the running RTT estimate,
// ported from original_source/src/bw.rs.
const rttAlpha = 0.125

// BandwidthMonitor implements the per-connection BDP estimator: it
// issues a PING once per "round" of data reception, measures RTT on
// the matching PONG, and recomputes the advised flow-control window.
// Safe for concurrent use; callers invoke OnData from the frame-read
// loop and OnPong from the PING-ACK handler.
type BandwidthMonitor struct {
	mu sync.Mutex

	pingOutstanding bool
	pingSentAt      time.Time
	pingData        [8]byte

	bytesSinceLastPing int64

	rtt              time.Duration
	rttInitialized   bool
	largestBandwidth float64 // bytes/sec
	bdp              int64   // current advised window size
}

// NewBandwidthMonitor creates a monitor seeded at the HTTP/2 default
// initial window size (65535), matching golang.org/x/net/http2's
// connection-level default before any WINDOW_UPDATE advisory fires.
func NewBandwidthMonitor() *BandwidthMonitor {
	return &BandwidthMonitor{bdp: 65535}
}

// OnDataReceived records chunkLen bytes arriving, and reports whether
// the caller should now send a PING (pingData is filled in when true).
// "On each data chunk received, if no PING outstanding, send a PING and
// record the timestamp. Accumulate received bytes."
func (m *BandwidthMonitor) OnDataReceived(chunkLen int) (shouldPing bool, pingData [8]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesSinceLastPing += int64(chunkLen)
	if m.pingOutstanding {
		return false, pingData
	}
	m.pingOutstanding = true
	m.pingSentAt = time.Now()
	// Any 8 bytes identifying this ping round; the monotonic send time
	// in nanoseconds (truncated) is enough for a connection-local ping.
	now := uint64(m.pingSentAt.UnixNano())
	for i := 0; i < 8; i++ {
		m.pingData[i] = byte(now >> (8 * uint(i)))
	}
	pingData = m.pingData
	return true, pingData
}

// OnPong processes the PONG matching the outstanding PING. It returns
// (newBDP, ok) where ok is true iff the doubling heuristic fired and
// the caller should emit a window-update advisory sized newBDP.
//
// rtt ← rtt + (rtt_sample − rtt)·0.125 (first sample assigned directly)
// bw = bytes / (rtt·1.5)
// if bw > largest_bandwidth && bytes >= 2/3·bdp: bdp = min(2·bytes, 16MiB)
// Byte counter resets after every PONG regardless of whether it fired.
func (m *BandwidthMonitor) OnPong(data [8]byte) (newBDP int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pingOutstanding || data != m.pingData {
		return 0, false
	}
	sample := time.Since(m.pingSentAt)
	m.pingOutstanding = false

	if !m.rttInitialized {
		m.rtt = sample
		m.rttInitialized = true
	} else {
		m.rtt = m.rtt + time.Duration(float64(sample-m.rtt)*rttAlpha)
	}

	bytes := m.bytesSinceLastPing
	m.bytesSinceLastPing = 0

	if m.rtt <= 0 || bytes == 0 {
		return 0, false
	}
	bw := float64(bytes) / (m.rtt.Seconds() * 1.5)

	gate := bytes >= (m.bdp*2)/3
	if bw > m.largestBandwidth && gate {
		m.largestBandwidth = bw
		newBDP = 2 * bytes
		if newBDP > bdpLimit {
			newBDP = bdpLimit
		}
		m.bdp = newBDP
		return newBDP, true
	}
	if bw > m.largestBandwidth {
		m.largestBandwidth = bw
	}
	return 0, false
}

// CurrentBDP returns the monitor's current advised window size.
func (m *BandwidthMonitor) CurrentBDP() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bdp
}

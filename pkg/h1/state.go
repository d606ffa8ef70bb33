// Package h1 implements the HTTP/1.1 framed request/response codec and
// the per-connection state machine that drives one logical exchange at
// a time, per SPEC_FULL.md §3/§4.1.
//
// Grounded on the teacher's pkg/client/client.go (framing/header-parsing
// rules) and on original_source/src/h1/mod.rs (state transitions,
// sequence-number semantics, backpressure contract). The Rust source
// models this with Futures/Wakers over a Weak<Mutex<Inner>>; this port
// keeps the STATES and TRANSITIONS faithfully but expresses them with a
// mutex-guarded struct and direct synchronous calls, since a single H1
// exchange is naturally sequential in Go — there is no poll-loop to
// drive, only a state to check before each operation.
package h1

// State is the per-connection state machine from SPEC_FULL.md §3.
type State int

const (
	// Ready: no exchange in flight; a new SendReq may start.
	Ready State = iota
	// SendBodyAndWaiting: request headers sent, body still streaming,
	// but the peer may already be answering (Expect-100, early 3xx).
	SendBodyAndWaiting
	// Waiting: request fully sent, response headers not yet read.
	Waiting
	// RecvBody: response headers parsed, body being drained.
	RecvBody
	// Closed: a fatal error occurred; the connection is dead.
	Closed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case SendBodyAndWaiting:
		return "SendBodyAndWaiting"
	case Waiting:
		return "Waiting"
	case RecvBody:
		return "RecvBody"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

package h2

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/wiretide/httpcore/pkg/constants"
	httperrors "github.com/wiretide/httpcore/pkg/errors"
)

// ClientPreface is the 24-byte HTTP/2 connection-start sequence a
// server dispatcher peeks for when ALPN did not disambiguate the
// protocol (SPEC_FULL.md §4.7).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// StreamState mirrors RFC 7540's stream state machine.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

// Stream is one HTTP/2 stream's bookkeeping: window accounting and
// accumulated response state.
type Stream struct {
	ID             uint32
	State          StreamState
	WindowSize     int32
	PeerWindowSize int32

	Status  int
	Headers map[string][]string
	Body    []byte
	Ended   bool

	// events is this stream's queue from the connection's single
	// background read loop (see Connection.readLoop). It is nil for
	// streams built without AllocateStream (server-side IncomingRequest
	// streams, which are read by AcceptRequest's own serialized loop
	// instead of the dispatcher).
	events chan streamEvent
}

// streamEvent is one demultiplexed frame handed from the connection's
// single reader goroutine to the stream-local consumer in
// ReadStreamToEnd, replacing the old per-call goroutine that raced
// Framer.ReadFrame directly.
type streamEvent struct {
	headers map[string][]string
	status  int
	data    []byte
	ended   bool
	err     error
}

const streamEventBuffer = 32

// Connection wraps one H2 TCP/TLS connection: the frame codec, HPACK
// encoder/decoder pair, per-stream table, and the BDP monitor that
// drives connection-level flow-control updates.
//
// Grounded on the teacher's pkg/http2/types.go Connection struct,
// extended with the BDP monitor field the teacher does not have.
type Connection struct {
	Conn    net.Conn
	Framer  *http2.Framer
	Encoder *hpack.Encoder
	EncBuf  *bytes.Buffer
	Decoder *hpack.Decoder

	// WriteMu serializes all Framer writes: golang.org/x/net/http2's
	// Framer is not safe for concurrent writers, and an H2 Connection
	// is shared across concurrently-multiplexed streams by design.
	WriteMu sync.Mutex

	mu           sync.Mutex
	Streams      map[uint32]*Stream
	NextStreamID uint32
	PeerWindow   int32
	Closed       bool
	LastActivity time.Time

	BDP *BandwidthMonitor

	// readLoopOnce guards readLoop: a shared H2 Connection — H2 entries
	// are always pool-reusable and multiplexed across concurrent
	// Agent.Do callers — must have exactly one goroutine calling
	// Framer.ReadFrame, since golang.org/x/net/http2.Framer is not safe
	// for concurrent readers. Client connections start this loop once,
	// in NewClientConnection; server connections instead use
	// AcceptRequest's own single serialized loop and never call
	// readLoop.
	readLoopOnce sync.Once
}

// NewClientConnection performs the client connection preface (writing
// the 24-byte magic string as golang.org/x/net/http2 requires before any
// framer I/O on a manually-driven connection) and an initial empty
// SETTINGS frame, then returns the ready Connection. nc must already be
// past TLS/ALPN negotiation (or be a plaintext h2c socket).
func NewClientConnection(nc net.Conn) (*Connection, error) {
	if _, err := nc.Write([]byte(ClientPreface)); err != nil {
		return nil, httperrors.NewIOError("write client preface", err)
	}
	var encBuf bytes.Buffer
	c := &Connection{
		Conn:         nc,
		Framer:       http2.NewFramer(nc, nc),
		Encoder:      hpack.NewEncoder(&encBuf),
		EncBuf:       &encBuf,
		Decoder:      hpack.NewDecoder(constants.DefaultHpackTableSize, nil),
		Streams:      make(map[uint32]*Stream),
		NextStreamID: 1,
		PeerWindow:   65535,
		LastActivity: time.Now(),
		BDP:          NewBandwidthMonitor(),
	}
	if err := c.Framer.WriteSettings(); err != nil {
		nc.Close()
		return nil, httperrors.NewIOError("write initial settings", err)
	}
	c.startReadLoop()
	return c, nil
}

// NewServerConnection reads the 24-byte client preface off nc (the
// server-side counterpart to NewClientConnection, which writes it),
// writes its own initial SETTINGS frame, then returns the ready
// Connection.
func NewServerConnection(nc net.Conn) (*Connection, error) {
	return NewServerConnectionFromReader(nc, nc)
}

// NewServerConnectionFromReader is NewServerConnection for a dispatcher
// that already peeked the preface off nc through its own buffered
// reader (SPEC_FULL.md §4.7's protocol-detection peek) — r must yield
// the same unconsumed byte stream nc would, just buffered.
func NewServerConnectionFromReader(nc net.Conn, r io.Reader) (*Connection, error) {
	preface := make([]byte, len(ClientPreface))
	if _, err := io.ReadFull(r, preface); err != nil {
		return nil, httperrors.NewIOError("read client preface", err)
	}
	if string(preface) != ClientPreface {
		nc.Close()
		return nil, httperrors.NewH2Error("preface", "client preface mismatch", nil)
	}
	var encBuf bytes.Buffer
	c := &Connection{
		Conn:         nc,
		Framer:       http2.NewFramer(nc, r),
		Encoder:      hpack.NewEncoder(&encBuf),
		EncBuf:       &encBuf,
		Decoder:      hpack.NewDecoder(constants.DefaultHpackTableSize, nil),
		Streams:      make(map[uint32]*Stream),
		NextStreamID: 2, // server-initiated streams would be even; this engine never pushes
		PeerWindow:   65535,
		LastActivity: time.Now(),
		BDP:          NewBandwidthMonitor(),
	}
	if err := c.Framer.WriteSettings(); err != nil {
		nc.Close()
		return nil, httperrors.NewIOError("write initial settings", err)
	}
	return c, nil
}

// AllocateStream reserves the next odd client stream ID, per RFC 7540
// (client-initiated streams are odd-numbered).
func (c *Connection) AllocateStream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.NextStreamID
	c.NextStreamID += 2
	s := &Stream{
		ID: id, State: StreamOpen, WindowSize: 65535, PeerWindowSize: 65535,
		events: make(chan streamEvent, streamEventBuffer),
	}
	c.Streams[id] = s
	return s
}

// startReadLoop launches the connection's single frame-reading
// goroutine, idempotently.
func (c *Connection) startReadLoop() {
	c.readLoopOnce.Do(func() { go c.readLoop() })
}

// readLoop is the sole caller of c.Framer.ReadFrame for the lifetime of
// a client Connection. It demultiplexes each frame to the stream it
// belongs to (ReadStreamToEnd consumes from Stream.events) instead of
// letting each concurrent caller race the shared Framer directly.
// Connection-level frames (SETTINGS, PING, GOAWAY) are handled here
// once rather than duplicated per waiting stream.
//
// Grounded on the teacher's pkg/http2/client.go readResponse loop and
// on AcceptRequest's server-side single-reader pattern in server.go;
// the dispatch-to-channel step is this engine's own addition to make
// that same single-reader discipline work when multiple streams are in
// flight concurrently on one pooled connection.
func (c *Connection) readLoop() {
	for {
		frame, err := c.Framer.ReadFrame()
		if err != nil {
			c.broadcast(streamEvent{err: httperrors.NewH2Error("read frame", "frame read failed", err)})
			return
		}
		c.touch()
		switch f := frame.(type) {
		case *http2.HeadersFrame:
			hdrs, status := c.decodeHeaders(f)
			c.dispatch(f.StreamID, streamEvent{headers: hdrs, status: status, ended: f.StreamEnded()})
		case *http2.DataFrame:
			data := f.Data()
			if shouldPing, pingData := c.BDP.OnDataReceived(len(data)); shouldPing {
				c.WriteMu.Lock()
				_ = c.Framer.WritePing(false, pingData)
				c.WriteMu.Unlock()
			}
			// release flow-control capacity equal to chunk length, both
			// per-stream and per-connection (stream 0).
			if len(data) > 0 {
				c.WriteMu.Lock()
				_ = c.Framer.WriteWindowUpdate(f.StreamID, uint32(len(data)))
				_ = c.Framer.WriteWindowUpdate(0, uint32(len(data)))
				c.WriteMu.Unlock()
			}
			c.dispatch(f.StreamID, streamEvent{data: data, ended: f.StreamEnded()})
		case *http2.SettingsFrame:
			if !f.IsAck() {
				c.WriteMu.Lock()
				_ = c.Framer.WriteSettingsAck()
				c.WriteMu.Unlock()
			}
		case *http2.WindowUpdateFrame:
			// peer is granting us more send capacity; tracked for
			// completeness, not gated on here since requests in this
			// engine are small enough to not block on it.
		case *http2.PingFrame:
			if f.IsAck() {
				if newBDP, ok := c.BDP.OnPong(f.Data); ok {
					c.WriteMu.Lock()
					_ = c.Framer.WriteWindowUpdate(0, uint32(newBDP))
					c.WriteMu.Unlock()
				}
				continue
			}
			c.WriteMu.Lock()
			_ = c.Framer.WritePing(true, f.Data)
			c.WriteMu.Unlock()
		case *http2.GoAwayFrame:
			c.broadcast(streamEvent{err: httperrors.NewH2Error("goaway", "peer sent GOAWAY", nil)})
			return
		case *http2.RSTStreamFrame:
			c.dispatch(f.StreamID, streamEvent{err: httperrors.NewH2Error("rst_stream", "stream reset by peer", nil)})
		}
	}
}

// dispatch hands ev to the waiting stream's queue. A stream with no
// registered waiter (e.g. a server-side IncomingRequest, which is never
// allocated through AllocateStream) is silently ignored; a full queue
// (a caller that stopped reading, e.g. after a ctx deadline) drops the
// event rather than stalling every other multiplexed stream on this
// connection.
func (c *Connection) dispatch(streamID uint32, ev streamEvent) {
	c.mu.Lock()
	s, ok := c.Streams[streamID]
	c.mu.Unlock()
	if !ok || s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// broadcast delivers a fatal connection-level event (a read error or
// GOAWAY) to every stream still registered, so no ReadStreamToEnd call
// hangs past the connection's actual death.
func (c *Connection) broadcast(ev streamEvent) {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.Streams))
	for _, s := range c.Streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	for _, s := range streams {
		if s.events == nil {
			continue
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (c *Connection) Stream(id uint32) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Streams[id]
	return s, ok
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()
}

// Close sends GOAWAY and closes the underlying connection, per the
// teacher's Connection.Close.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.Closed {
		c.mu.Unlock()
		return nil
	}
	c.Closed = true
	c.mu.Unlock()
	_ = c.Framer.WriteGoAway(0, http2.ErrCodeNo, nil)
	return c.Conn.Close()
}

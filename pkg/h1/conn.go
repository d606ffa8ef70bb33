package h1

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wiretide/httpcore/pkg/constants"
	httperrors "github.com/wiretide/httpcore/pkg/errors"
)

// Framing identifies which body-termination rule a message uses.
// Only ContentLength, Chunked and None (no body) are "unambiguous" /
// reusable per
// SPEC_FULL.md §3 ("a pooled H1 connection is eligible for reuse iff...
// its last body used a framing whose end is unambiguous").
type Framing int

const (
	FramingNone Framing = iota
	FramingContentLength
	FramingChunked
	FramingUntilClose
)

func (f Framing) Reusable() bool {
	return f == FramingContentLength || f == FramingChunked || f == FramingNone
}

var connIDCounter int64

func nextConnID() int64 { return atomic.AddInt64(&connIDCounter, 1) }

// Conn drives one logical byte stream through the state machine
// described in SPEC_FULL.md §3/§4.1. It processes at most one in-flight
// exchange at a time (the caller must not start a second SendRequest
// before the first RecvBody has reached EOF).
type Conn struct {
	ID int64

	netConn net.Conn
	br      *bufio.Reader

	mu    sync.Mutex
	state State
	seq   uint64 // advances only when a RecvBody completes with reusable framing
	err   error  // sticky once set; all subsequent operations observe it
}

func NewConn(netConn net.Conn) *Conn {
	return NewConnFromReader(netConn, bufio.NewReaderSize(netConn, 4096))
}

// NewConnFromReader wraps netConn with a caller-supplied *bufio.Reader,
// for server dispatchers that already peeked bytes off the connection
// (SPEC_FULL.md §4.7's ALPN/preface protocol detection) and must not
// lose them behind a second, independent buffer.
func NewConnFromReader(netConn net.Conn, br *bufio.Reader) *Conn {
	return &Conn{
		ID:      nextConnID(),
		netConn: netConn,
		br:      br,
		state:   Ready,
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Sequence returns the current exchange sequence number — it advances
// only when a response body finishes draining with reusable framing.
func (c *Conn) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Conn) fail(err error) error {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.state = Closed
	cloned := c.err
	c.mu.Unlock()
	return cloned
}

func (c *Conn) checkAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		if c.err != nil {
			return c.err
		}
		return httperrors.NewIOError("connection", io.ErrClosedPipe)
	}
	return nil
}

// WriteRequestHead serializes and writes the request line plus headers
// plus the terminating blank line. hasBody indicates whether a
// SendBody/Writer call will follow, controlling the Ready →
// {SendBodyAndWaiting|Waiting} transition.
func (c *Conn) WriteRequestHead(method, target string, headers map[string][]string, hasBody bool) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, target)
	writeHeaders(&b, headers)
	b.WriteString("\r\n")
	if _, err := io.WriteString(c.netConn, b.String()); err != nil {
		return c.fail(httperrors.NewIOError("write request head", err))
	}
	c.mu.Lock()
	if hasBody {
		c.state = SendBodyAndWaiting
	} else {
		c.state = Waiting
	}
	c.mu.Unlock()
	return nil
}

func writeHeaders(b *strings.Builder, headers map[string][]string) {
	for name, values := range headers {
		for _, v := range values {
			fmt.Fprintf(b, "%s: %s\r\n", name, v)
		}
	}
}

// BodyWriter returns a writer that frames the outgoing request body
// either by declared Content-Length or, if contentLength < 0, by
// chunked transfer-encoding (the client-send default from
// SPEC_FULL.md §4.1: "on send: if user supplied Content-Length, use
// length framing; otherwise chunked").
func (c *Conn) BodyWriter(contentLength int64) io.WriteCloser {
	if contentLength >= 0 {
		return NewContentLengthWriter(c.netConn, contentLength)
	}
	return NewChunkedWriter(c.netConn)
}

// FinishBody transitions SendBodyAndWaiting → Waiting once the request
// body has been fully written (end-of-body per the state machine's
// "on end-of-body, go to Waiting").
func (c *Conn) FinishBody() error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == SendBodyAndWaiting {
		c.state = Waiting
	}
	c.mu.Unlock()
	return nil
}

// EarlyResponse is what SendBodyAndAwaitResponse saw arrive first: either
// the peer answering before the request body finished streaming, or the
// body finishing first and the response following normally.
type EarlyResponse struct {
	Head Head

	// BodyInFlight is true when Head arrived while the body writer was
	// still running — the SendBodyAndWaiting state's "the peer may
	// already be answering" case (Expect: 100-continue, or an early
	// error status on a large upload). The body write continues in the
	// background; BodyDone reports its eventual outcome.
	BodyInFlight bool

	// BodyDone reports the body-writing goroutine's result. When
	// BodyInFlight is false the write had already finished (successfully)
	// before Head arrived, and a single nil has already been sent. When
	// BodyInFlight is true, the caller that receives a 100 Continue (or
	// that otherwise wants the body to finish before proceeding) should
	// read this channel before sending any further bytes on the
	// connection, to avoid interleaving with the body writer.
	BodyDone <-chan error
}

// SendBodyAndAwaitResponse streams body through w (the writer returned
// by BodyWriter) while concurrently watching for RecvResponseHead to
// complete, instead of waiting for the full body to be written first.
// This is the SendBodyAndWaiting state's early-response path: a peer may
// send a "100 Continue" interim response, or an early final response
// (e.g. while rejecting an oversized upload), before the client has
// finished streaming the request body. A caller that gets back a 100
// Continue head should wait on the returned EarlyResponse.BodyDone and
// then call RecvResponseHead again for the final response; any other
// early status is final and the body write may be abandoned.
func (c *Conn) SendBodyAndAwaitResponse(src io.Reader, w io.WriteCloser) (EarlyResponse, error) {
	bodyDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, src)
		if err == nil {
			err = w.Close()
		}
		if err != nil {
			bodyDone <- c.fail(httperrors.NewIOError("write request body", err))
			return
		}
		bodyDone <- c.FinishBody()
	}()

	type headResult struct {
		head Head
		err  error
	}
	headDone := make(chan headResult, 1)
	go func() {
		h, err := c.RecvResponseHead()
		headDone <- headResult{h, err}
	}()

	var bodyErr error
	bodyFinished := false
	for {
		select {
		case bodyErr = <-bodyDone:
			bodyFinished = true
			if bodyErr != nil {
				// headDone is buffered; its goroutine will unblock and
				// exit once the caller closes/evicts this connection.
				return EarlyResponse{}, bodyErr
			}
		case hr := <-headDone:
			if hr.err != nil {
				return EarlyResponse{}, hr.err
			}
			if bodyFinished {
				done := make(chan error, 1)
				done <- nil
				return EarlyResponse{Head: hr.head, BodyDone: done}, nil
			}
			return EarlyResponse{Head: hr.head, BodyInFlight: true, BodyDone: bodyDone}, nil
		}
	}
}

// Head is the parsed response-head result of RecvResponseHead.
type Head struct {
	Status  StatusLine
	Headers map[string][]string
}

// RecvResponseHead drives RecvRes until the terminating CRLFCRLF is
// observed, then transitions Waiting → RecvBody.
func (c *Conn) RecvResponseHead() (Head, error) {
	if err := c.checkAlive(); err != nil {
		return Head{}, err
	}
	line, err := readLine(c.br)
	if err != nil {
		return Head{}, c.fail(httperrors.NewH1ParseError("status line", "unexpected EOF reading status line"))
	}
	sl, err := ParseStatusLine(line)
	if err != nil {
		return Head{}, c.fail(err)
	}
	headers, err := ParseHeaderBlock(c.br)
	if err != nil {
		return Head{}, c.fail(err)
	}
	c.mu.Lock()
	c.state = RecvBody
	c.mu.Unlock()
	return Head{Status: sl, Headers: headers}, nil
}

// DetermineFraming implements the receive-side framing precedence from
// SPEC_FULL.md §4.1: Transfer-Encoding: chunked > Content-Length >
// read-until-close. noBodyStatus covers RFC 9110 §6.4.1 (1xx/204/304,
// or a HEAD request) where no body is read regardless of headers.
func DetermineFraming(headers map[string][]string, noBodyStatus bool) (Framing, int64) {
	if noBodyStatus {
		return FramingNone, 0
	}
	if te, ok := headers["Transfer-Encoding"]; ok {
		for _, v := range te {
			if strings.Contains(strings.ToLower(v), "chunked") {
				return FramingChunked, -1
			}
		}
	}
	if cl, ok := headers["Content-Length"]; ok && len(cl) > 0 {
		n, err := strconv.ParseInt(strings.TrimSpace(cl[0]), 10, 64)
		if err == nil && n >= 0 && n <= constants.MaxContentLength {
			return FramingContentLength, n
		}
	}
	return FramingUntilClose, -1
}

// BodyReader returns a reader for the response body per the chosen
// framing, and reports reuse eligibility once the caller has drained it
// to EOF via the returned *ReuseTracker.
type ReuseTracker struct {
	conn    *Conn
	framing Framing
}

// Done must be called once the body reader reaches EOF (or is abandoned
// early by an explicit eviction). ok indicates whether the underlying
// exchange finished without an I/O error; the framing's own
// Reusable() additionally gates reuse.
func (t *ReuseTracker) Done(ok bool) {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if ok && t.framing.Reusable() && t.conn.state != Closed {
		t.conn.state = Ready
		t.conn.seq++
	} else {
		t.conn.state = Closed
	}
}

func (c *Conn) NewReuseTracker(framing Framing) *ReuseTracker {
	return &ReuseTracker{conn: c, framing: framing}
}

// BodyReader constructs the appropriate decoder for framing. The
// returned io.Reader does not itself call Done on the ReuseTracker;
// callers (pkg/body) are responsible for calling tracker.Done once
// fully drained, matching "a read of 0 finalizes the body" in
// SPEC_FULL.md §4.3.
func (c *Conn) BodyReader(framing Framing, contentLength int64) io.Reader {
	switch framing {
	case FramingChunked:
		return NewChunkedReader(c.br)
	case FramingContentLength:
		return io.LimitReader(c.br, contentLength)
	case FramingNone:
		return io.LimitReader(c.br, 0)
	default: // FramingUntilClose
		return c.br
	}
}

// Fail marks the connection permanently Closed with err, for use by
// callers (e.g. the body pipeline) that detect a fatal framing error
// mid-stream.
func (c *Conn) Fail(err error) error { return c.fail(err) }

func (c *Conn) Close() error {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	return c.netConn.Close()
}

func (c *Conn) Underlying() net.Conn { return c.netConn }

// ReqHead is the parsed request-head result of RecvRequestHead, the
// server-side counterpart to RecvResponseHead.
type ReqHead struct {
	Line    RequestLine
	Headers map[string][]string
}

// RecvRequestHead reads a request line plus header block off the
// connection, for server-side use of the same Ready→RecvBody→Ready
// state machine SPEC_FULL.md §4.1 describes (the machine is symmetric:
// a server reads a request head where a client reads a response head).
func (c *Conn) RecvRequestHead() (ReqHead, error) {
	if err := c.checkAlive(); err != nil {
		return ReqHead{}, err
	}
	line, err := readLine(c.br)
	if err != nil {
		return ReqHead{}, c.fail(httperrors.NewH1ParseError("request line", "unexpected EOF reading request line"))
	}
	rl, err := ParseRequestLine(line)
	if err != nil {
		return ReqHead{}, c.fail(err)
	}
	headers, err := ParseHeaderBlock(c.br)
	if err != nil {
		return ReqHead{}, c.fail(err)
	}
	c.mu.Lock()
	c.state = RecvBody
	c.mu.Unlock()
	return ReqHead{Line: rl, Headers: headers}, nil
}

// WriteResponseHead writes the status line plus headers plus the
// terminating blank line, the server-side counterpart to
// WriteRequestHead.
func (c *Conn) WriteResponseHead(status int, reason string, headers map[string][]string, hasBody bool) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)
	writeHeaders(&b, headers)
	b.WriteString("\r\n")
	if _, err := io.WriteString(c.netConn, b.String()); err != nil {
		return c.fail(httperrors.NewIOError("write response head", err))
	}
	c.mu.Lock()
	if hasBody {
		c.state = SendBodyAndWaiting
	} else {
		c.state = Waiting
	}
	c.mu.Unlock()
	return nil
}

// FinishExchange transitions a just-completed server exchange back to
// Ready (for the next pipelined request) when reusable is true,
// advancing the sequence counter; otherwise the connection is closed.
func (c *Conn) FinishExchange(reusable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reusable && c.state != Closed {
		c.state = Ready
		c.seq++
	} else {
		c.state = Closed
	}
}

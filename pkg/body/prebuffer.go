package body

import (
	"bytes"
	"io"
)

// PrebufferInitial and PrebufferCap implement SPEC_FULL.md §4.3's
// prebuffering rule: "attempt to pull up to a cap (default 256 KiB,
// growing geometrically from 16 KiB) before framing is decided."
const (
	PrebufferInitial = 16 * 1024
	PrebufferCap     = 256 * 1024
)

// Prebuffer reads up to PrebufferCap bytes from r, growing its read
// buffer geometrically starting at PrebufferInitial. It reports
// whether the source was fully consumed within the cap (fit=true) and
// returns both the buffered prefix and a Reader that replays that
// prefix followed by any remainder of r — so callers can decide
// Content-Length-vs-chunked framing and then still stream the whole
// body without having lost the already-read bytes.
func Prebuffer(r io.Reader) (buffered []byte, fit bool, rest io.Reader, err error) {
	var buf bytes.Buffer
	readSize := PrebufferInitial
	for buf.Len() < PrebufferCap {
		remaining := PrebufferCap - buf.Len()
		if readSize > remaining {
			readSize = remaining
		}
		chunk := make([]byte, readSize)
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if rerr == io.EOF {
			return buf.Bytes(), true, bytes.NewReader(buf.Bytes()), nil
		}
		if rerr != nil {
			return buf.Bytes(), false, nil, rerr
		}
		if readSize < PrebufferCap-buf.Len() {
			readSize *= 2
		}
	}
	// Cap reached without EOF: body did not fit; chunked framing is
	// required. Replay the buffered prefix followed by the rest of r.
	return buf.Bytes(), false, io.MultiReader(bytes.NewReader(buf.Bytes()), r), nil
}

// WrapPrebuffered reattaches closer — typically the original body's own
// Close — to rest, the replay reader Prebuffer returns, so a caller that
// replaces its outgoing body with Prebuffer's result doesn't lose
// whatever cleanup the original io.ReadCloser needed.
func WrapPrebuffered(rest io.Reader, closer io.Closer) io.ReadCloser {
	return prebufferedReadCloser{rest, closer}
}

type prebufferedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (p prebufferedReadCloser) Close() error { return p.closer.Close() }

// FailingReader returns a reader whose every Read immediately fails
// with err, used to let a prebuffering failure surface again when the
// replacement body is actually written rather than being swallowed at
// framing-decision time.
func FailingReader(err error) io.Reader { return failingReader{err} }

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

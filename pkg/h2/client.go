package h2

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	httperrors "github.com/wiretide/httpcore/pkg/errors"
)

// pseudoOrder is the fixed pseudo-header write order the teacher's
// sendFrame already uses and RFC 7540 §8.1.2.1 requires pseudo-headers
// to precede regular ones (request pseudo-headers only; the server-side
// :status is written first by SendResponse instead).
var pseudoOrder = []string{":method", ":path", ":scheme", ":authority"}

// SendRequest writes a HEADERS frame for a new request on its own
// stream, in the fixed pseudo-header-first order, then regular headers
// lowercased per HTTP/2 convention. endStream is true when the request
// has no body.
func (c *Connection) SendRequest(s *Stream, pseudo map[string]string, headers map[string][]string, endStream bool) error {
	c.WriteMu.Lock()
	defer c.WriteMu.Unlock()
	c.EncBuf.Reset()
	for _, name := range pseudoOrder {
		if v, ok := pseudo[name]; ok {
			if err := c.Encoder.WriteField(hpack.HeaderField{Name: name, Value: v}); err != nil {
				return httperrors.NewH2Error("encode headers", "pseudo-header encode failed", err)
			}
		}
	}
	for name, values := range headers {
		lname := strings.ToLower(name)
		for _, v := range values {
			if err := c.Encoder.WriteField(hpack.HeaderField{Name: lname, Value: v}); err != nil {
				return httperrors.NewH2Error("encode headers", "header encode failed", err)
			}
		}
	}
	err := c.Framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      s.ID,
		BlockFragment: c.EncBuf.Bytes(),
		EndStream:     endStream,
		EndHeaders:    true,
	})
	if err != nil {
		return httperrors.NewIOError("write headers frame", err)
	}
	if endStream {
		s.State = StreamHalfClosedLocal
	}
	c.touch()
	return nil
}

// SendData writes a DATA frame for the given stream.
func (c *Connection) SendData(s *Stream, data []byte, endStream bool) error {
	c.WriteMu.Lock()
	defer c.WriteMu.Unlock()
	if err := c.Framer.WriteData(s.ID, endStream, data); err != nil {
		return httperrors.NewIOError("write data frame", err)
	}
	if endStream {
		s.State = StreamHalfClosedLocal
	}
	c.touch()
	return nil
}

// ReadStreamToEnd waits on the stream's own event queue until its
// response is fully received (StreamEnded), racing ctx's deadline. It
// implements the BDP monitor's PING/PONG trigger points and the
// per-chunk flow-control release described in SPEC_FULL.md §4.2: "For
// each received chunk, after the upper layer accepts it, release
// capacity back to the peer equal to chunk length" — both of which now
// happen once, centrally, in Connection.readLoop rather than per call.
//
// A pooled H2 Connection is shared across concurrently-multiplexed
// Agent.Do callers (H2 pool entries are always reusable), so this no
// longer reads Framer itself: golang.org/x/net/http2.Framer is not safe
// for concurrent readers, and a frame addressed to another stream must
// be redispatched to it rather than dropped. Connection.readLoop is the
// single reader; this method only consumes s.events.
//
// Grounded on the teacher's pkg/http2/client.go readResponse loop,
// generalized with ctx-based cancellation (SPEC_FULL.md's deadline
// racing, §5/§9) in place of the teacher's hardcoded 30s timeout.
func (c *Connection) ReadStreamToEnd(ctx context.Context, s *Stream) error {
	for {
		select {
		case ev := <-s.events:
			if ev.err != nil {
				return ev.err
			}
			if ev.headers != nil {
				s.Status = ev.status
				s.Headers = ev.headers
			}
			if len(ev.data) > 0 {
				s.Body = append(s.Body, ev.data...)
			}
			if ev.ended {
				s.Ended = true
				return nil
			}
		case <-ctx.Done():
			return httperrors.NewTimeoutError("h2 read stream", 0)
		}
	}
}

func (c *Connection) decodeHeaders(f *http2.HeadersFrame) (map[string][]string, int) {
	// the connection's one decoder keeps the HPACK dynamic table that
	// later header blocks refer back to; only readLoop calls this.
	fields, _ := c.Decoder.DecodeFull(f.HeaderBlockFragment())
	headers := make(map[string][]string)
	status := 0
	for _, hf := range fields {
		if hf.Name == ":status" {
			if n, err := strconv.Atoi(hf.Value); err == nil {
				status = n
			}
			continue
		}
		if strings.HasPrefix(hf.Name, ":") {
			continue
		}
		headers[hf.Name] = append(headers[hf.Name], hf.Value)
	}
	return headers, status
}

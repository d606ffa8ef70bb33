package h2

import (
	"strconv"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	httperrors "github.com/wiretide/httpcore/pkg/errors"
)

// IncomingRequest is one fully-received request HEADERS(+DATA) on a
// server Connection, with its pseudo-headers split out for the
// dispatcher to build a message.Request from.
type IncomingRequest struct {
	Stream    *Stream
	Method    string
	Path      string
	Authority string
	Scheme    string
	Headers   map[string][]string
}

// AcceptRequest blocks until the next client-initiated stream on c
// completes its request (HEADERS with END_STREAM, or HEADERS followed
// by DATA frames ending in END_STREAM), and returns it. It returns
// (nil, err), err being an *errors.Error, when the peer sends GOAWAY
// or the connection errors.
//
// Grounded on ReadStreamToEnd's frame-read loop, inverted for the
// server role: here a HEADERS frame starts a new stream rather than
// completing one the caller already knows about.
func (c *Connection) AcceptRequest() (*IncomingRequest, error) {
	for {
		frame, err := c.Framer.ReadFrame()
		if err != nil {
			return nil, httperrors.NewH2Error("read frame", "frame read failed", err)
		}
		c.touch()
		switch f := frame.(type) {
		case *http2.HeadersFrame:
			s := &Stream{ID: f.StreamID, State: StreamOpen, WindowSize: 65535, PeerWindowSize: 65535}
			c.mu.Lock()
			c.Streams[f.StreamID] = s
			c.mu.Unlock()
			headers, pseudo := c.decodeRequestHeaders(f)
			s.Headers = headers
			if f.StreamEnded() {
				s.Ended = true
				return &IncomingRequest{
					Stream: s, Method: pseudo[":method"], Path: pseudo[":path"],
					Authority: pseudo[":authority"], Scheme: pseudo[":scheme"], Headers: headers,
				}, nil
			}
			// body follows in subsequent DATA frames; keep reading
			// until END_STREAM on this stream ID.
			for {
				frame2, err := c.Framer.ReadFrame()
				if err != nil {
					return nil, httperrors.NewH2Error("read frame", "frame read failed", err)
				}
				df, ok := frame2.(*http2.DataFrame)
				if !ok || df.StreamID != f.StreamID {
					continue
				}
				s.Body = append(s.Body, df.Data()...)
				if df.StreamEnded() {
					s.Ended = true
					return &IncomingRequest{
						Stream: s, Method: pseudo[":method"], Path: pseudo[":path"],
						Authority: pseudo[":authority"], Scheme: pseudo[":scheme"], Headers: headers,
					}, nil
				}
			}
		case *http2.SettingsFrame:
			if !f.IsAck() {
				c.WriteMu.Lock()
				_ = c.Framer.WriteSettingsAck()
				c.WriteMu.Unlock()
			}
		case *http2.PingFrame:
			if !f.IsAck() {
				c.WriteMu.Lock()
				_ = c.Framer.WritePing(true, f.Data)
				c.WriteMu.Unlock()
			}
		case *http2.GoAwayFrame:
			return nil, httperrors.NewH2Error("goaway", "peer sent GOAWAY", nil)
		case *http2.WindowUpdateFrame, *http2.RSTStreamFrame:
			// no-op: this engine does not gate sends on peer window,
			// and RST_STREAM frames are ignored.
		}
	}
}

func (c *Connection) decodeRequestHeaders(f *http2.HeadersFrame) (headers map[string][]string, pseudo map[string]string) {
	// the connection's one decoder keeps the HPACK dynamic table that
	// later header blocks refer back to; only AcceptRequest calls this.
	fields, _ := c.Decoder.DecodeFull(f.HeaderBlockFragment())
	headers = make(map[string][]string)
	pseudo = make(map[string]string)
	for _, hf := range fields {
		if strings.HasPrefix(hf.Name, ":") {
			pseudo[hf.Name] = hf.Value
			continue
		}
		headers[hf.Name] = append(headers[hf.Name], hf.Value)
	}
	return headers, pseudo
}

// SendResponse writes the response HEADERS frame (":status" first, per
// the same pseudo-header-precedes-regular rule as the client side).
func (c *Connection) SendResponse(s *Stream, status int, headers map[string][]string, endStream bool) error {
	c.WriteMu.Lock()
	defer c.WriteMu.Unlock()
	c.EncBuf.Reset()
	if err := c.Encoder.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(status)}); err != nil {
		return httperrors.NewH2Error("encode headers", "status pseudo-header encode failed", err)
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
	c.touch()
	return nil
}

// SendResponseData writes a DATA frame on s, the server-side
// counterpart to SendData (kept distinct only for readability at call
// sites; the wire operation is identical).
func (c *Connection) SendResponseData(s *Stream, data []byte, endStream bool) error {
	return c.SendData(s, data, endStream)
}

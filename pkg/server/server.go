package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/wiretide/httpcore/pkg/body"
	"github.com/wiretide/httpcore/pkg/constants"
	httperrors "github.com/wiretide/httpcore/pkg/errors"
	"github.com/wiretide/httpcore/pkg/h1"
	"github.com/wiretide/httpcore/pkg/h2"
	"github.com/wiretide/httpcore/pkg/message"
	"github.com/wiretide/httpcore/pkg/runtime"
)

const (
	productName    = "httpcore"
	productVersion = "0.1"
)

// Dispatcher answers one request, the common surface of both
// *router.Router and any *router.StatefulRouter[S] (a with_state()
// router closes over its state and needs no type parameter here).
type Dispatcher interface {
	Dispatch(req *message.Request) (*message.Response, error)
}

// Server accepts connections on Options.Addr, detects H1 vs H2, and
// dispatches each request to a Dispatcher, per SPEC_FULL.md §4.7.
type Server struct {
	router Dispatcher
	opts   Options
	ln     net.Listener
}

func New(rt Dispatcher, opts Options) *Server {
	if opts.AcceptBackoff <= 0 {
		opts.AcceptBackoff = constants.DefaultAcceptBackoff
	}
	if opts.Runtime == nil {
		opts.Runtime = runtime.NewDefault()
	}
	return &Server{router: rt, opts: opts}
}

// Listen binds Options.Addr, advertising ALPN (h2, http/1.1) when
// TLSConfig is set, and records the bound listener so Addr() reports
// the actual ephemeral port after a ":0" bind.
func (s *Server) Listen() error {
	rt := s.opts.Runtime

	if s.opts.TLSConfig != nil {
		cfg := s.opts.TLSConfig.Clone()
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{"h2", "http/1.1"}
		}
		ln, err := tls.Listen("tcp", s.opts.Addr, cfg)
		if err != nil {
			return httperrors.NewIOError("listen", err)
		}
		s.ln = ln
	} else {
		ln, err := rt.Listen("tcp", s.opts.Addr)
		if err != nil {
			return httperrors.NewIOError("listen", err)
		}
		s.ln = ln
	}
	return nil
}

// Addr returns the bound listener's address. Call after Listen (or once
// ListenAndServe has started accepting) to discover an ephemeral ":0"
// port.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// ListenAndServe binds Options.Addr (if not already bound via Listen)
// and runs the accept loop until ctx is done or a non-recoverable
// Listen error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	rt := s.opts.Runtime

	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.ln.Close()

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.opts.Logger.Warn().Err(err).Msg("accept failed, backing off")
			time.Sleep(s.opts.AcceptBackoff)
			continue
		}
		rt.Spawn(func() { s.serveConn(ctx, conn) })
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	negotiated := ""
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return
		}
		negotiated = tlsConn.ConnectionState().NegotiatedProtocol
	}

	br := bufio.NewReaderSize(conn, 4096)
	isH2 := negotiated == "h2"
	if negotiated == "" {
		if peek, err := br.Peek(len(h2.ClientPreface)); err == nil && bytes.Equal(peek, []byte(h2.ClientPreface)) {
			isH2 = true
		}
	}

	if isH2 {
		s.serveH2(ctx, conn, br)
		return
	}
	s.serveH1(ctx, conn, br)
}

// parseTarget resolves a request-line target into a *url.URL. An
// absolute-form target (HTTP/2 or a proxy-style H1 request) parses
// directly; an origin-form target ("/path?query") is resolved against
// the Host header, per RFC 7230 §5.3.
func parseTarget(target string, headers map[string][]string) (*url.URL, error) {
	if u, err := url.ParseRequestURI(target); err == nil && u.IsAbs() {
		return u, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if host, ok := headers["Host"]; ok && len(host) > 0 {
		u.Host = host[0]
	}
	u.Scheme = "http"
	return u, nil
}

func (s *Server) serveH1(ctx context.Context, conn net.Conn, br *bufio.Reader) {
	defer conn.Close()
	c := h1.NewConnFromReader(conn, br)
	for {
		if s.opts.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		head, err := c.RecvRequestHead()
		if err != nil {
			return // connection closed or malformed; nothing more to serve
		}

		req := message.NewRequest(head.Line.Method, nil)
		req.Version = head.Line.Version
		req.Headers = message.Headers(head.Headers)
		req.RemoteAddr = conn.RemoteAddr().String()
		req.LocalAddr = conn.LocalAddr().String()
		if u, err := parseTarget(head.Line.Target, head.Headers); err == nil {
			req.URI = u
		}

		noBody := head.Line.Method == "HEAD"
		framing, length := h1.DetermineFraming(head.Headers, noBody)
		if framing == h1.FramingUntilClose {
			// a request with neither Content-Length nor chunked framing has no body
			framing, length = h1.FramingNone, 0
		}
		req.Body = io.NopCloser(c.BodyReader(framing, length))

		resp, herr := s.router.Dispatch(req)
		if herr != nil {
			s.opts.Logger.Error().Err(herr).Str("path", head.Line.Target).Msg("handler error")
			resp = message.NewResponse(500)
		}
		// drain any unread request body so framing stays consistent
		// for the next pipelined request on this connection.
		io.Copy(io.Discard, req.Body)

		finalizeResponse(resp)
		hasBody := resp.Body != nil
		if s.opts.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		if err := c.WriteResponseHead(resp.StatusCode, resp.Reason, resp.Headers, hasBody); err != nil {
			return
		}
		reusable := framing.Reusable()
		if !hasBody && !resp.Headers.Has("Content-Length") && !resp.Headers.Has("Transfer-Encoding") {
			// the client reads an unframed response body until close
			reusable = false
		}
		if hasBody {
			cl := int64(-1)
			if v := resp.Headers.Get("Content-Length"); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					cl = n
				}
			}
			w := c.BodyWriter(cl)
			if _, err := io.Copy(w, resp.Body); err != nil {
				reusable = false
			}
			resp.Body.Close()
			if err := w.Close(); err != nil {
				reusable = false
			}
			if err := c.FinishBody(); err != nil {
				reusable = false
			}
		}
		c.FinishExchange(reusable)
		if !reusable {
			return
		}
	}
}

func (s *Server) serveH2(ctx context.Context, conn net.Conn, br *bufio.Reader) {
	defer conn.Close()
	c, err := h2.NewServerConnectionFromReader(conn, br)
	if err != nil {
		return
	}
	for {
		ir, err := c.AcceptRequest()
		if err != nil {
			return
		}
		s.opts.Runtime.Spawn(func() { s.handleH2Request(c, ir) })
	}
}

func (s *Server) handleH2Request(c *h2.Connection, ir *h2.IncomingRequest) {
	req := message.NewRequest(ir.Method, nil)
	req.Version = "HTTP/2.0"
	req.Headers = message.Headers(ir.Headers)
	if u, err := parseTarget(ir.Path, nil); err == nil {
		req.URI = u
		req.URI.Host = ir.Authority
		req.URI.Scheme = ir.Scheme
	}
	req.Body = io.NopCloser(bytes.NewReader(ir.Stream.Body))

	resp, herr := s.router.Dispatch(req)
	if herr != nil {
		s.opts.Logger.Error().Err(herr).Str("path", ir.Path).Msg("handler error")
		resp = message.NewResponse(500)
	}
	finalizeResponse(resp)

	hasBody := resp.Body != nil
	if err := c.SendResponse(ir.Stream, resp.StatusCode, resp.Headers, !hasBody); err != nil {
		return
	}
	if hasBody {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		_ = c.SendResponseData(ir.Stream, data, true)
	}
}

// finalizeResponse fills the Server and Date headers and the reason
// phrase when absent, and frames a body that has neither Content-Length
// nor Transfer-Encoding via applyPrebufferFraming. Content-Type is not
// filled in, and a response without a body gets no framing header.
func finalizeResponse(resp *message.Response) {
	if resp.Headers == nil {
		resp.Headers = message.Headers{}
	}
	if !resp.Headers.Has("Server") {
		resp.Headers.Set("Server", productName+"/"+productVersion)
	}
	if !resp.Headers.Has("Date") {
		resp.Headers.Set("Date", time.Now().UTC().Format(http1Date))
	}
	if resp.Reason == "" {
		resp.Reason = statusText(resp.StatusCode)
	}
	if resp.Body != nil && !resp.Headers.Has("Content-Length") && !resp.Headers.Has("Transfer-Encoding") {
		applyPrebufferFraming(resp)
	}
}

// applyPrebufferFraming is finalizeResponse's half of SPEC_FULL.md
// §4.3/§4.4's outgoing framing rule: prebuffer up to body.PrebufferCap
// to learn an accurate Content-Length before falling back to chunked,
// mirroring pkg/client's applyPrebufferFraming for the response side.
func applyPrebufferFraming(resp *message.Response) {
	buffered, fit, rest, err := body.Prebuffer(resp.Body)
	orig := resp.Body
	if err != nil {
		resp.Body = body.WrapPrebuffered(io.MultiReader(bytes.NewReader(buffered), body.FailingReader(err)), orig)
		resp.Headers.Set("Transfer-Encoding", "chunked")
		return
	}
	resp.Body = body.WrapPrebuffered(rest, orig)
	if fit {
		resp.Headers.Set("Content-Length", strconv.Itoa(len(buffered)))
	} else {
		resp.Headers.Set("Transfer-Encoding", "chunked")
	}
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 416:
		return "Range Not Satisfiable"
	case 500:
		return "Internal Server Error"
	default:
		return ""
	}
}

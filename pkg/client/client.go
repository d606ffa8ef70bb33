// Package client implements the unified client request pipeline
// (the Agent) described in SPEC_FULL.md §4.4: it drives a request to
// completion across H1 and H2, applying pooling, cookies, redirects,
// and retries under one deadline.
//
// Grounded on the teacher's pkg/client/client.go Do/sendRequest/
// readResponse shape (connect, send, read, release-or-close), replaced
// wholesale with a message.Request/Response pipeline since the
// teacher's raw-byte Options/Response model has no notion of retry,
// redirect, or cookies, and on original_source/src/client/agent.rs for
// the retry/redirect loop's exact ordering of steps.
package client

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wiretide/httpcore/pkg/body"
	"github.com/wiretide/httpcore/pkg/buffer"
	"github.com/wiretide/httpcore/pkg/constants"
	"github.com/wiretide/httpcore/pkg/cookiejar"
	httperrors "github.com/wiretide/httpcore/pkg/errors"
	"github.com/wiretide/httpcore/pkg/h1"
	"github.com/wiretide/httpcore/pkg/h2"
	"github.com/wiretide/httpcore/pkg/message"
	"github.com/wiretide/httpcore/pkg/pool"
	"github.com/wiretide/httpcore/pkg/runtime"
	"github.com/wiretide/httpcore/pkg/timing"
	"github.com/wiretide/httpcore/pkg/wire"
)

const (
	productName    = "httpcore"
	productVersion = "0.1"

	retryBaseDelay = constants.DefaultRetryBaseDelay
	retryMaxDelay  = constants.DefaultRetryMaxDelay
)

// AgentOptions configures the pipeline-wide behavior: redirect/retry
// budgets, pooling, and cookie handling, per SPEC_FULL.md §4.4.
type AgentOptions struct {
	Redirects  int  // default 5; 0 disables
	Retries    int  // default 5; 0 disables
	Pooling    bool // default true; off clears the pool
	UseCookies bool // default true; off clears the jar

	// Runtime supplies the dial/spawn/timer seam wire.Connect uses in
	// place of a bare net.Dialer, letting callers substitute the
	// injectable async runtime (SPEC_FULL.md §5). Nil falls back to
	// wire.DefaultDialFunc.
	Runtime runtime.Runtime
}

func DefaultAgentOptions() AgentOptions {
	return AgentOptions{Redirects: 5, Retries: 5, Pooling: true, UseCookies: true}
}

// Override pins the authority a connection actually dials to, leaving
// the request's own URI untouched — SPEC_FULL.md §4.4's
// with_override(host,port,tls), used by tests to point a request at a
// local listener without rewriting the URI.
type Override struct {
	Host string
	Port int
	TLS  bool
}

// RequestOptions are the per-request overrides enumerated in
// SPEC_FULL.md §4.4/§6.
type RequestOptions struct {
	Timeout             time.Duration
	ForceHTTP2          bool
	CharsetEncode       bool
	CharsetEncodeSource string
	CharsetDecode       bool
	CharsetDecodeTarget string
	ContentEncode       bool
	ContentDecode       bool
	RedirectBodyBuffer  int
	Override            *Override
	TLSDisableVerify    bool
}

// Agent owns a connection pool and cookie jar and drives requests to
// completion, per SPEC_FULL.md §4.4. It is the single owner of both
// (SPEC_FULL.md §5 "Mutation policy": "The Agent owns its pool and
// cookie jar; both are single-owner").
type Agent struct {
	opts AgentOptions
	pool *pool.Pool
	jar  *cookiejar.Jar
}

func New(opts AgentOptions) *Agent {
	a := &Agent{opts: opts}
	if opts.Pooling {
		a.pool = pool.New()
	}
	if opts.UseCookies {
		a.jar = cookiejar.New()
	}
	return a
}

// SetPooling toggles pooling at runtime; turning it off clears the
// pool, per SPEC_FULL.md §4.4 ("pooling: bool (default on) — off
// clears the pool").
func (a *Agent) SetPooling(on bool) {
	a.opts.Pooling = on
	if !on && a.pool != nil {
		a.pool.Clear()
		a.pool = nil
	} else if on && a.pool == nil {
		a.pool = pool.New()
	}
}

// SetUseCookies toggles cookie handling; turning it off clears the jar.
func (a *Agent) SetUseCookies(on bool) {
	a.opts.UseCookies = on
	if !on {
		a.jar = nil
	} else if a.jar == nil {
		a.jar = cookiejar.New()
	}
}

func isIdempotent(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE":
		return true
	default:
		return false
	}
}

func methodHasBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

// Do resolves req.URI's query params (callers append via url.Values
// before calling Do), establishes a deadline from ro.Timeout, and
// drives the retry/redirect/cookie loop of SPEC_FULL.md §4.4's
// Algorithm to a final response.
func (a *Agent) Do(ctx context.Context, req *message.Request, ro RequestOptions) (*message.Response, error) {
	if ro.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ro.Timeout)
		defer cancel()
	}

	redirectsLeft := a.opts.Redirects
	retriesLeft := a.opts.Retries
	backoff := retryBaseDelay

	originalHostPort, err := requestHostPort(req.URI)
	if err != nil {
		return nil, err
	}

	bodyBuf, bodyBuffered := bufferRedirectBody(req, ro.RedirectBodyBuffer)

	current := req

	for {
		select {
		case <-ctx.Done():
			return nil, httperrors.NewTimeoutError("agent.Do", ro.Timeout)
		default:
		}

		if a.jar != nil {
			a.jar.ApplyToRequest(current.URI, current.Headers)
		}

		finalizeRequest(current)

		hp, err := requestHostPort(current.URI)
		if err != nil {
			return nil, err
		}
		if ro.Override != nil && hp.Equal(originalHostPort) {
			hp = wire.HostPort{Host: ro.Override.Host, Port: ro.Override.Port, TLS: ro.Override.TLS}
		}

		timer := timing.NewTimer()
		timer.StartTCP()
		entry, err := a.obtain(ctx, hp, ro)
		timer.EndTCP()
		if err != nil {
			return nil, err
		}

		timer.StartTTFB()
		resp, sendErr := a.send(ctx, entry, current, ro)
		timer.EndTTFB()
		if sendErr != nil {
			a.evict(hp, entry)
			if retriesLeft > 0 && isIdempotent(current.Method) && httperrors.IsRetryableError(sendErr) {
				retriesLeft--
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, httperrors.NewTimeoutError("agent.Do retry wait", ro.Timeout)
				}
				backoff = time.Duration(math.Min(float64(backoff*2), float64(retryMaxDelay)))
				continue
			}
			return nil, sendErr
		}

		if a.jar != nil {
			a.jar.IngestSetCookies(current.URI, resp.Headers)
		}

		if isRedirect(resp.StatusCode) && redirectsLeft > 0 {
			loc := resp.Headers.Get("Location")
			if loc == "" {
				return nil, httperrors.NewProtoError("redirect", "redirect response missing Location header")
			}
			next, err := resolveLocation(current.URI, loc)
			if err != nil {
				return nil, err
			}
			redirectsLeft--

			preserveMethodAndBody := resp.StatusCode == 307 || resp.StatusCode == 308
			nextReq := message.NewRequest(current.Method, next)
			nextReq.Version = current.Version
			if !preserveMethodAndBody {
				nextReq.Method = "GET"
				nextReq.Body = nil
			} else if bodyBuffered {
				nextReq.Body = io.NopCloser(bytes.NewReader(bodyBuf))
			} else {
				nextReq.Body = nil
			}
			for k, v := range current.Headers {
				if k == "Content-Length" || k == "Transfer-Encoding" || k == "Host" {
					continue
				}
				nextReq.Headers[k] = append([]string(nil), v...)
			}

			if drainErr := drainAndRelease(resp); drainErr != nil {
				a.evict(hp, entry)
			}

			current = nextReq
			continue
		}

		if resp.Ext == nil {
			resp.Ext = message.Extensions{}
		}
		resp.Ext["timing"] = timer.GetMetrics()
		return resp, nil
	}
}

// obtain searches the pool for a reusable entry, dialing a fresh one
// otherwise, per SPEC_FULL.md §4.4 step 2b / §4.5.
func (a *Agent) obtain(ctx context.Context, hp wire.HostPort, ro RequestOptions) (*pool.Entry, error) {
	if a.pool != nil {
		if e, ok := a.pool.Get(hp); ok {
			return e, nil
		}
	}

	cfg := wire.Config{HostPort: hp, InsecureSkipVerify: ro.TLSDisableVerify, Runtime: a.opts.Runtime}
	if ro.ForceHTTP2 {
		cfg.ALPN = []string{"h2"}
	}
	conn, meta, err := wire.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	useH2 := ro.ForceHTTP2 || meta.NegotiatedProto == "h2"
	var entry *pool.Entry
	if useH2 {
		c, err := h2.NewClientConnection(conn)
		if err != nil {
			return nil, err
		}
		entry = &pool.Entry{HostPort: hp, Protocol: pool.ProtoH2, H2: c}
	} else {
		entry = &pool.Entry{HostPort: hp, Protocol: pool.ProtoH1, H1: h1.NewConn(conn)}
	}
	if a.pool != nil {
		a.pool.Put(entry)
	}
	return entry, nil
}

func (a *Agent) evict(hp wire.HostPort, e *pool.Entry) {
	if a.pool != nil {
		a.pool.Evict(e)
	} else if e.Protocol == pool.ProtoH1 {
		e.H1.Close()
	} else {
		e.H2.Close()
	}
}

// send dispatches req over entry's protocol and returns the parsed
// response with its body wired for lazy draining.
func (a *Agent) send(ctx context.Context, entry *pool.Entry, req *message.Request, ro RequestOptions) (*message.Response, error) {
	if entry.Protocol == pool.ProtoH2 {
		return a.sendH2(ctx, entry.H2, req, ro)
	}
	return a.sendH1(entry.H1, req, ro)
}

func bodyParams(ro RequestOptions) body.Params {
	return body.Params{
		ContentEncode:       ro.ContentEncode,
		ContentDecode:       ro.ContentDecode,
		CharsetEncode:       ro.CharsetEncode,
		CharsetEncodeSource: ro.CharsetEncodeSource,
		CharsetDecode:       ro.CharsetDecode,
		CharsetDecodeTarget: ro.CharsetDecodeTarget,
	}
}

func (a *Agent) sendH1(conn *h1.Conn, req *message.Request, ro RequestOptions) (*message.Response, error) {
	target := req.URI.RequestURI()
	hasBody := req.Body != nil
	if err := conn.WriteRequestHead(req.Method, target, req.Headers, hasBody); err != nil {
		return nil, err
	}
	var head h1.Head
	if hasBody {
		contentLength := int64(-1)
		if cl := req.Headers.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				contentLength = n
			}
		}
		w := conn.BodyWriter(contentLength)
		early, err := conn.SendBodyAndAwaitResponse(req.Body, w)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		// A "100 Continue" interim response may arrive before the body
		// finishes streaming (SendBodyAndWaiting's early-response path);
		// wait for the body write to settle, then read the final head.
		// Any other early status (informational or final) is itself the
		// response this exchange resolves to.
		for early.Head.Status.Code == 100 {
			if early.BodyInFlight {
				if err := <-early.BodyDone; err != nil {
					return nil, err
				}
			}
			early.Head, err = conn.RecvResponseHead()
			if err != nil {
				return nil, err
			}
			early.BodyInFlight = false
		}
		head = early.Head
	} else {
		var err error
		head, err = conn.RecvResponseHead()
		if err != nil {
			return nil, err
		}
	}
	noBody := req.Method == "HEAD" || (head.Status.Code >= 100 && head.Status.Code < 200) ||
		head.Status.Code == 204 || head.Status.Code == 304
	framing, length := h1.DetermineFraming(head.Headers, noBody)
	tracker := conn.NewReuseTracker(framing)
	raw := conn.BodyReader(framing, length)
	b := body.NewH1Body(raw, length, tracker.Done)
	if err := b.Configure(bodyParams(ro), head.Headers, true, time.Time{}); err != nil {
		return nil, err
	}

	resp := message.NewResponse(head.Status.Code)
	resp.Reason = head.Status.Reason
	resp.Version = "HTTP/1.1"
	resp.Headers = message.Headers(head.Headers)
	resp.Body = b
	return resp, nil
}

func (a *Agent) sendH2(ctx context.Context, conn *h2.Connection, req *message.Request, ro RequestOptions) (*message.Response, error) {
	stream := conn.AllocateStream()
	pseudo := map[string]string{
		":method":    req.Method,
		":path":      req.URI.RequestURI(),
		":scheme":    schemeOf(req.URI),
		":authority": req.URI.Host,
	}
	hasBody := req.Body != nil
	if err := conn.SendRequest(stream, pseudo, req.Headers, !hasBody); err != nil {
		return nil, err
	}
	if hasBody {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, httperrors.NewIOError("read request body", err)
		}
		if err := conn.SendData(stream, data, true); err != nil {
			return nil, err
		}
	}
	if err := conn.ReadStreamToEnd(ctx, stream); err != nil {
		return nil, err
	}
	b := body.NewH2Body(stream.Body, nil)
	if err := b.Configure(bodyParams(ro), stream.Headers, true, time.Time{}); err != nil {
		return nil, err
	}
	resp := message.NewResponse(stream.Status)
	resp.Version = "HTTP/2.0"
	resp.Headers = message.Headers(stream.Headers)
	resp.Body = b
	return resp, nil
}

func schemeOf(u *url.URL) string {
	if u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}

func requestHostPort(u *url.URL) (wire.HostPort, error) {
	port := 0
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return wire.NewHostPort(schemeOf(u), u.Hostname(), port)
}

func isRedirect(status int) bool {
	return status == 301 || status == 302 || status == 303 ||
		status == 305 || status == 306 || status == 307 || status == 308
}

// resolveLocation resolves a (possibly relative) Location header
// against the current request URI.
func resolveLocation(base *url.URL, loc string) (*url.URL, error) {
	ref, err := url.Parse(loc)
	if err != nil {
		return nil, httperrors.NewProtoError("redirect", "invalid Location header: "+err.Error())
	}
	return base.ResolveReference(ref), nil
}

// bufferRedirectBody captures up to n bytes of req's body so a 307/308
// redirect can resend it, per SPEC_FULL.md §4.4's redirect_body_buffer.
// When n is 0 (the default) or the body exceeds n bytes, buffered is
// false and a 307/308 redirect proceeds with no body.
//
// Grounded on the teacher's pkg/buffer.Buffer (memory store with a
// disk-spill threshold): the redirect cap n doubles as that threshold,
// so a body that fits stays in memory and one that doesn't spills —
// at which point it has already exceeded n and is discarded rather
// than resent.
func bufferRedirectBody(req *message.Request, n int) (data []byte, buffered bool) {
	if req.Body == nil || n <= 0 {
		return nil, false
	}
	buf := buffer.New(int64(n))
	if _, err := io.Copy(buf, req.Body); err != nil {
		buf.Close()
		return nil, false
	}
	if buf.IsSpilled() {
		buf.Close() // oversize: not retried with a body
		return nil, false
	}
	b := append([]byte(nil), buf.Bytes()...)
	buf.Close()
	req.Body = io.NopCloser(bytes.NewReader(b))
	return b, true
}

// finalizeRequest fills in the framing, User-Agent, Accept and Host
// headers when absent. Framing (Content-Length when the body fits the
// prebuffer cap, chunked otherwise) is added only to POST/PUT/PATCH
// requests that have a body. Content-Type is not filled in.
func finalizeRequest(req *message.Request) {
	if !req.Headers.Has("Content-Length") && req.Body != nil && methodHasBody(req.Method) {
		applyPrebufferFraming(req)
	}
	if !req.Headers.Has("User-Agent") {
		req.Headers.Set("User-Agent", productName+"/"+productVersion)
	}
	if !req.Headers.Has("Accept") {
		req.Headers.Set("Accept", "*/*")
	}
	if req.Headers.Get("Host") == "" {
		req.Headers.Set("Host", req.URI.Host)
	}
}

// applyPrebufferFraming implements the outgoing half of SPEC_FULL.md
// §4.3/§4.4's framing rule: prebuffer up to body.PrebufferCap to learn
// an accurate Content-Length before falling back to chunked, instead of
// always declaring chunked the instant no length was given explicitly.
func applyPrebufferFraming(req *message.Request) {
	buffered, fit, rest, err := body.Prebuffer(req.Body)
	orig := req.Body
	if err != nil {
		req.Body = body.WrapPrebuffered(io.MultiReader(bytes.NewReader(buffered), body.FailingReader(err)), orig)
		req.Headers.Set("Transfer-Encoding", "chunked")
		return
	}
	req.Body = body.WrapPrebuffered(rest, orig)
	if fit {
		req.Headers.Set("Content-Length", strconv.Itoa(len(buffered)))
	} else {
		req.Headers.Set("Transfer-Encoding", "chunked")
	}
}

// drainAndRelease reads resp.Body to EOF (for H1 framing hygiene, per
// SPEC_FULL.md §4.4 step 2d) and closes it.
func drainAndRelease(resp *message.Response) error {
	if resp.Body == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return err
	}
	return closeErr
}

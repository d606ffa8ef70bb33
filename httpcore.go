// Package httpcore is a user-facing HTTP/1.1 + HTTP/2 client/server
// protocol engine. It drives requests end-to-end (pooling, retry,
// redirect, cookies) through the Agent, and dispatches incoming
// connections through a router-backed Server, per SPEC_FULL.md.
package httpcore

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"github.com/wiretide/httpcore/pkg/client"
	httperrors "github.com/wiretide/httpcore/pkg/errors"
	"github.com/wiretide/httpcore/pkg/message"
	"github.com/wiretide/httpcore/pkg/router"
	"github.com/wiretide/httpcore/pkg/server"
)

// Version is the current version of the library.
const Version = "0.1.0"

func GetVersion() string { return Version }

// Re-export the core data model and pipeline types for easier usage.
type (
	// Request is the protocol-agnostic request model (method, URI,
	// headers, body, extension bag).
	Request = message.Request

	// Response is the protocol-agnostic response model.
	Response = message.Response

	// Headers is a case-insensitive, multi-value header list.
	Headers = message.Headers

	// AgentOptions controls the client pipeline's redirect/retry/pool/
	// cookie behavior.
	AgentOptions = client.AgentOptions

	// RequestOptions are the per-request overrides (timeout,
	// force_http2, charset/content codecs, redirect body buffering,
	// authority override, TLS verification).
	RequestOptions = client.RequestOptions

	// Agent drives requests to completion across H1/H2 with pooling,
	// retries, redirects, and cookies.
	Agent = client.Agent

	// Override pins the authority a connection actually dials to.
	Override = client.Override

	// Router compiles path patterns to matchers and dispatches
	// requests to registered handlers.
	Router = router.Router

	// Handler answers a request with a response.
	Handler = router.Handler

	// Middleware wraps a request/next pair into a response.
	Middleware = router.Middleware

	// Server accepts connections, detects H1/H2, and dispatches
	// through a Router.
	Server = server.Server

	// ServerOptions configures a Server.
	ServerOptions = server.Options

	// Error is the structured error every httpcore component returns.
	Error = httperrors.Error
)

// Re-export error-kind constants for convenience.
const (
	ErrorTypeUser      = httperrors.ErrorTypeUser
	ErrorTypeProtocol  = httperrors.ErrorTypeProtocol
	ErrorTypeIO        = httperrors.ErrorTypeIO
	ErrorTypeTimeout   = httperrors.ErrorTypeTimeout
	ErrorTypeH1Parse   = httperrors.ErrorTypeH1Parse
	ErrorTypeH2        = httperrors.ErrorTypeH2
	ErrorTypeHTTPAPI   = httperrors.ErrorTypeHTTPAPI
	ErrorTypeJSON      = httperrors.ErrorTypeJSON
	ErrorTypeTLS       = httperrors.ErrorTypeTLS
	ErrorTypeAddrParse = httperrors.ErrorTypeAddrParse
)

// DefaultAgentOptions returns the spec defaults: 5 redirects, 5
// retries, pooling on, cookies on.
func DefaultAgentOptions() AgentOptions { return client.DefaultAgentOptions() }

// NewAgent constructs an Agent, allocating its pool and/or cookie jar
// according to opts.
func NewAgent(opts AgentOptions) *Agent { return client.New(opts) }

// NewRequest builds a Request from a method and a URL string, applying
// any query-parameter pairs via SPEC_FULL.md §6's query(k,v) option
// (supplied here as variadic key/value pairs appended to the URI's
// query string before the request is constructed).
func NewRequest(method, rawURL string, query ...string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, httperrors.NewHTTPAPIError("parse request URL", err.Error())
	}
	if len(query) > 0 {
		q := u.Query()
		for i := 0; i+1 < len(query); i += 2 {
			q.Add(query[i], query[i+1])
		}
		u.RawQuery = q.Encode()
	}
	return message.NewRequest(strings.ToUpper(method), u), nil
}

// NewResponse builds a Response with the given status code and empty
// headers.
func NewResponse(status int) *Response { return message.NewResponse(status) }

// WithBody attaches an arbitrary reader as req's body.
func WithBody(req *Request, r io.Reader) {
	if rc, ok := r.(io.ReadCloser); ok {
		req.Body = rc
	} else {
		req.Body = io.NopCloser(r)
	}
}

// WithJSON marshals v and attaches it as the body of msg, which is a
// *Request or a *Response, setting Content-Type: application/json when
// absent, per SPEC_FULL.md §6's with_json body setter.
func WithJSON(msg any, v any) error {
	var headers Headers
	var dst *io.ReadCloser
	switch m := msg.(type) {
	case *Request:
		headers, dst = m.Headers, &m.Body
	case *Response:
		headers, dst = m.Headers, &m.Body
	default:
		return httperrors.NewUserError("WithJSON: msg must be a *Request or a *Response")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return httperrors.NewJSONError("marshal body", err)
	}
	*dst = io.NopCloser(strings.NewReader(string(b)))
	if !headers.Has("Content-Type") {
		headers.Set("Content-Type", "application/json")
	}
	return nil
}

// JSON reads resp's body to completion and unmarshals it into v, per
// SPEC_FULL.md §6's send_json round-trip counterpart.
func JSON(resp *Response, v any) error {
	if resp.Body == nil {
		return httperrors.NewJSONError("decode response body", io.EOF)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return httperrors.NewIOError("read response body", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return httperrors.NewJSONError("unmarshal response body", err)
	}
	return nil
}

// Do is a convenience one-shot call: build an ad hoc Agent with default
// options, send req, and return the response. Callers issuing more
// than one request should construct an Agent directly via NewAgent so
// pooling and cookies are shared across calls.
func Do(ctx context.Context, req *Request, ro RequestOptions) (*Response, error) {
	return NewAgent(DefaultAgentOptions()).Do(ctx, req, ro)
}

// NewRouter returns an empty Router ready for route registration.
func NewRouter() *Router { return router.New() }

// NewServer constructs a Server dispatching accepted connections
// through rt.
func NewServer(rt *Router, opts ServerOptions) *Server {
	return server.New(rt, opts)
}

// DefaultServerOptions returns sane defaults for a plaintext server on
// addr: a one-second accept backoff and a no-op logger.
func DefaultServerOptions(addr string) ServerOptions { return server.DefaultOptions(addr) }

// FileHandler serves files under root, honoring single-range GET
// requests per SPEC_FULL.md §12's supplemented static-file feature.
func FileHandler(root string) Handler { return server.FileHandler(root) }

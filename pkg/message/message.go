// Package message defines the Request/Response data model shared across
// pkg/router, pkg/client, pkg/server, and the root httpcore package, per
// SPEC_FULL.md §3: "Method, URI, version, header list (case-insensitive
// name, opaque bytes value), body handle, and a typed extension bag
// carrying protocol parameters."
package message

import (
	"io"
	"net/url"
)

// Headers is a case-insensitive, multi-value header list. Names are
// stored canonicalized (see pkg/h1's textproto canonicalization) so
// lookups are case-insensitive by construction.
type Headers map[string][]string

func (h Headers) Get(name string) string {
	if vs, ok := h[CanonicalHeaderKey(name)]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (h Headers) Set(name, value string) {
	h[CanonicalHeaderKey(name)] = []string{value}
}

func (h Headers) Add(name, value string) {
	key := CanonicalHeaderKey(name)
	h[key] = append(h[key], value)
}

func (h Headers) Has(name string) bool {
	_, ok := h[CanonicalHeaderKey(name)]
	return ok
}

func (h Headers) Del(name string) {
	delete(h, CanonicalHeaderKey(name))
}

// CanonicalHeaderKey title-cases a header name the same way
// net/textproto.CanonicalMIMEHeaderKey does, without importing net/http.
func CanonicalHeaderKey(name string) string {
	b := []byte(name)
	upper := true
	for i, c := range b {
		if c == '-' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			b[i] = c - 32
		} else if !upper && c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
		upper = false
	}
	return string(b)
}

// Extensions is the typed extension bag carrying protocol parameters
// (e.g. router path-capture bindings, per-request body.Params, deadline
// overrides) that do not belong in the wire header list.
type Extensions map[string]any

// Request is the protocol-agnostic request model.
type Request struct {
	Method  string
	URI     *url.URL
	Version string // "HTTP/1.1" or "HTTP/2.0"
	Headers Headers
	Body    io.ReadCloser

	Ext Extensions

	// RemoteAddr/LocalAddr are populated by the server dispatcher.
	RemoteAddr string
	LocalAddr  string
}

func NewRequest(method string, uri *url.URL) *Request {
	return &Request{Method: method, URI: uri, Version: "HTTP/1.1", Headers: Headers{}, Ext: Extensions{}}
}

// PathParam returns a router-captured wildcard binding, set by
// pkg/router when a route matches.
func (r *Request) PathParam(name string) string {
	if r.Ext == nil {
		return ""
	}
	if params, ok := r.Ext["path_params"].(map[string]string); ok {
		return params[name]
	}
	return ""
}

// Response is the protocol-agnostic response model.
type Response struct {
	StatusCode int
	Reason     string
	Version    string
	Headers    Headers
	Body       io.ReadCloser

	Ext Extensions
}

func NewResponse(status int) *Response {
	return &Response{StatusCode: status, Headers: Headers{}, Ext: Extensions{}}
}

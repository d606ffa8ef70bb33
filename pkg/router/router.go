package router

import (
	"strings"

	"github.com/wiretide/httpcore/pkg/message"
)

// Handler answers a request with a response (or an error, which the
// server dispatcher turns into a 500 per SPEC_FULL.md §4.7).
type Handler func(req *message.Request) (*message.Response, error)

// Next is the continuation a middleware calls to invoke the rest of
// the chain.
type Next func(req *message.Request) (*message.Response, error)

// Middleware wraps a request/next pair into a response.
type Middleware func(req *message.Request, next Next) (*message.Response, error)

// RouteMethod is the method predicate attached to a route: either All
// or a specific HTTP method.
type RouteMethod struct {
	all    bool
	method string
}

func MethodAll() RouteMethod                { return RouteMethod{all: true} }
func Method(m string) RouteMethod           { return RouteMethod{method: strings.ToUpper(m)} }
func (rm RouteMethod) Accepts(m string) bool {
	return rm.all || rm.method == strings.ToUpper(m)
}

// Endpoint is one registered (method-predicate, compiled path, chain)
// entry, per SPEC_FULL.md §3.
type Endpoint struct {
	Method  RouteMethod
	Pattern *Pattern
	Chain   Handler
}

// Router compiles path patterns to matchers and dispatches in
// first-match-wins insertion order, per SPEC_FULL.md §4.8.
//
// Grounded on original_source/src/server/router.rs: middleware fold
// from right-to-left at registration time, mount-prefix stripping
// before matching, and replace-on-duplicate-pattern registration.
type Router struct {
	prefix      string
	endpoints   []*Endpoint
	middlewares []Middleware
}

func New() *Router {
	return &Router{}
}

// Mount registers sub under prefix as a catch-all endpoint of r; sub's
// dispatch strips prefix from the request path before matching its own
// routes.
func (r *Router) Mount(prefix string, sub *Router) {
	sub.prefix = strings.TrimSuffix(prefix, "/") + sub.prefix
	r.endpoints = append(r.endpoints, &Endpoint{
		Method:  MethodAll(),
		Pattern: Compile(prefix + "/*__mount_rest"),
		Chain: func(req *message.Request) (*message.Response, error) {
			return sub.dispatch(req)
		},
	})
}

// Use registers a middleware. Middlewares wrap right-to-left: the
// first-registered middleware becomes outermost (SPEC_FULL.md §4.8).
func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// at registers (or replaces) an endpoint for pattern+method.
func (r *Router) at(method RouteMethod, pattern string, h Handler) {
	compiled := Compile(pattern)
	chain := r.foldMiddleware(h)
	for _, ep := range r.endpoints {
		if ep.Method.all == method.all && ep.Method.method == method.method && ep.Pattern.Equal(compiled) {
			ep.Chain = chain // re-registering an equal pattern replaces the prior endpoint
			return
		}
	}
	r.endpoints = append(r.endpoints, &Endpoint{Method: method, Pattern: compiled, Chain: chain})
}

// foldMiddleware wraps h with this router's middlewares so that the
// first-registered middleware is outermost (it is applied last here,
// by iterating in reverse, so it ends up enclosing everything added
// after it).
func (r *Router) foldMiddleware(h Handler) Handler {
	chain := h
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		mw := r.middlewares[i]
		next := chain
		chain = func(req *message.Request) (*message.Response, error) {
			return mw(req, Next(next))
		}
	}
	return chain
}

func (r *Router) All(pattern string, h Handler)     { r.at(MethodAll(), pattern, h) }
func (r *Router) Get(pattern string, h Handler)     { r.at(Method("GET"), pattern, h) }
func (r *Router) Head(pattern string, h Handler)    { r.at(Method("HEAD"), pattern, h) }
func (r *Router) Post(pattern string, h Handler)    { r.at(Method("POST"), pattern, h) }
func (r *Router) Put(pattern string, h Handler)     { r.at(Method("PUT"), pattern, h) }
func (r *Router) Delete(pattern string, h Handler)  { r.at(Method("DELETE"), pattern, h) }
func (r *Router) Options(pattern string, h Handler) { r.at(Method("OPTIONS"), pattern, h) }
func (r *Router) Connect(pattern string, h Handler) { r.at(Method("CONNECT"), pattern, h) }
func (r *Router) Patch(pattern string, h Handler)   { r.at(Method("PATCH"), pattern, h) }
func (r *Router) Trace(pattern string, h Handler)   { r.at(Method("TRACE"), pattern, h) }

// Dispatch strips the router's mount prefix from the request path,
// then tries each endpoint in insertion order; the first pattern match
// whose method predicate accepts the method wins. A 404 response is
// returned when nothing matches.
func (r *Router) Dispatch(req *message.Request) (*message.Response, error) {
	return r.dispatch(req)
}

func (r *Router) dispatch(req *message.Request) (*message.Response, error) {
	path := req.URI.Path
	if r.prefix != "" {
		if !strings.HasPrefix(path, r.prefix) {
			return notFound(), nil
		}
		path = strings.TrimPrefix(path, r.prefix)
		if path == "" {
			path = "/"
		}
	}
	for _, ep := range r.endpoints {
		if !ep.Method.Accepts(req.Method) {
			continue
		}
		params, ok := ep.Pattern.Match(path)
		if !ok {
			continue
		}
		if req.Ext == nil {
			req.Ext = message.Extensions{}
		}
		req.Ext["path_params"] = params
		return ep.Chain(req)
	}
	return notFound(), nil
}

func notFound() *message.Response {
	resp := message.NewResponse(404)
	resp.Reason = "Not Found"
	return resp
}

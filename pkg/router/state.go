package router

import (
	"strings"

	"github.com/wiretide/httpcore/pkg/message"
)

// StatefulHandler answers a request with access to shared router state
// S, the Go-generic counterpart to original_source's
// Router<State>/Chain<State>: every handler in a with_state() tree
// receives the state alongside the request instead of closing over it
// by hand.
type StatefulHandler[S any] func(req *message.Request, state S) (*message.Response, error)

// StatefulNext is the continuation a stateful middleware calls to
// invoke the rest of the chain.
type StatefulNext[S any] func(req *message.Request, state S) (*message.Response, error)

// StatefulMiddleware wraps a request/state/next triple into a response.
type StatefulMiddleware[S any] func(req *message.Request, state S, next StatefulNext[S]) (*message.Response, error)

type statefulEndpoint[S any] struct {
	method  RouteMethod
	pattern *Pattern
	chain   StatefulHandler[S]
}

// StatefulRouter is Router generalized over a state type S threaded
// through every handler and middleware, per SPEC_FULL.md §4.8's
// with_state() capability.
//
// Grounded on original_source/src/server/router.rs's Router<State>
// (generic over State, run(state, req) threads it through Chain<State>)
// and on this package's own non-generic Router for the dispatch
// mechanics (prefix stripping, first-match-wins, replace-on-duplicate
// registration, right-to-left middleware fold) — Go has no
// State::default() or a way to make Router itself optionally generic,
// so with_state() is this sibling type rather than a zero-state Router
// specialization.
type StatefulRouter[S any] struct {
	prefix      string
	state       S
	endpoints   []*statefulEndpoint[S]
	middlewares []StatefulMiddleware[S]
}

// WithState constructs a router whose handlers and middleware all
// receive state, the with_state() entry point SPEC_FULL.md §4.8 names.
func WithState[S any](state S) *StatefulRouter[S] {
	return &StatefulRouter[S]{state: state}
}

// State returns the value this router was constructed with.
func (r *StatefulRouter[S]) State() S { return r.state }

// Mount registers sub under prefix as a catch-all endpoint of r; sub's
// dispatch strips prefix before matching, the stateful counterpart of
// Router.Mount. sub shares
// this router's state type but keeps whatever state it was itself
// constructed with via WithState.
func (r *StatefulRouter[S]) Mount(prefix string, sub *StatefulRouter[S]) {
	sub.prefix = strings.TrimSuffix(prefix, "/") + sub.prefix
	r.endpoints = append(r.endpoints, &statefulEndpoint[S]{
		method:  MethodAll(),
		pattern: Compile(prefix + "/*__mount_rest"),
		chain: func(req *message.Request, _ S) (*message.Response, error) {
			return sub.dispatch(req)
		},
	})
}

// Use registers a middleware; the first-registered middleware becomes
// outermost, matching Router.Use.
func (r *StatefulRouter[S]) Use(mw StatefulMiddleware[S]) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *StatefulRouter[S]) at(method RouteMethod, pattern string, h StatefulHandler[S]) {
	compiled := Compile(pattern)
	chain := r.foldMiddleware(h)
	for _, ep := range r.endpoints {
		if ep.method.all == method.all && ep.method.method == method.method && ep.pattern.Equal(compiled) {
			ep.chain = chain
			return
		}
	}
	r.endpoints = append(r.endpoints, &statefulEndpoint[S]{method: method, pattern: compiled, chain: chain})
}

func (r *StatefulRouter[S]) foldMiddleware(h StatefulHandler[S]) StatefulHandler[S] {
	chain := h
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		mw := r.middlewares[i]
		next := chain
		chain = func(req *message.Request, state S) (*message.Response, error) {
			return mw(req, state, StatefulNext[S](next))
		}
	}
	return chain
}

func (r *StatefulRouter[S]) All(pattern string, h StatefulHandler[S])     { r.at(MethodAll(), pattern, h) }
func (r *StatefulRouter[S]) Get(pattern string, h StatefulHandler[S])     { r.at(Method("GET"), pattern, h) }
func (r *StatefulRouter[S]) Head(pattern string, h StatefulHandler[S])    { r.at(Method("HEAD"), pattern, h) }
func (r *StatefulRouter[S]) Post(pattern string, h StatefulHandler[S])    { r.at(Method("POST"), pattern, h) }
func (r *StatefulRouter[S]) Put(pattern string, h StatefulHandler[S])     { r.at(Method("PUT"), pattern, h) }
func (r *StatefulRouter[S]) Delete(pattern string, h StatefulHandler[S])  { r.at(Method("DELETE"), pattern, h) }
func (r *StatefulRouter[S]) Options(pattern string, h StatefulHandler[S]) { r.at(Method("OPTIONS"), pattern, h) }
func (r *StatefulRouter[S]) Connect(pattern string, h StatefulHandler[S]) { r.at(Method("CONNECT"), pattern, h) }
func (r *StatefulRouter[S]) Patch(pattern string, h StatefulHandler[S])   { r.at(Method("PATCH"), pattern, h) }
func (r *StatefulRouter[S]) Trace(pattern string, h StatefulHandler[S])   { r.at(Method("TRACE"), pattern, h) }

// Dispatch strips the router's mount prefix, then tries each endpoint
// in insertion order, invoking the first whose pattern and method both
// match with this router's state. A 404 is returned when nothing
// matches, matching Router.Dispatch.
func (r *StatefulRouter[S]) Dispatch(req *message.Request) (*message.Response, error) {
	return r.dispatch(req)
}

func (r *StatefulRouter[S]) dispatch(req *message.Request) (*message.Response, error) {
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
		if !ep.method.Accepts(req.Method) {
			continue
		}
		params, ok := ep.pattern.Match(path)
		if !ok {
			continue
		}
		if req.Ext == nil {
			req.Ext = message.Extensions{}
		}
		req.Ext["path_params"] = params
		return ep.chain(req, r.state)
	}
	return notFound(), nil
}

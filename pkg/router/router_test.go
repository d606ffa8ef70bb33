package router

import (
	"net/url"
	"testing"

	"github.com/wiretide/httpcore/pkg/message"
)

func newReq(method, path string) *message.Request {
	req := message.NewRequest(method, &url.URL{Path: path})
	return req
}

func okHandler(body string) Handler {
	return func(req *message.Request) (*message.Response, error) {
		resp := message.NewResponse(200)
		resp.Headers.Set("X-Body", body)
		return resp, nil
	}
}

func TestDispatchReregisteredPatternReplaces(t *testing.T) {
	r := New()
	r.Get("/a", okHandler("first"))
	r.Get("/a", okHandler("second")) // same pattern replaces, per SPEC_FULL.md §4.8

	resp, err := r.Dispatch(newReq("GET", "/a"))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if got := resp.Headers.Get("X-Body"); got != "second" {
		t.Fatalf("got %q, want second", got)
	}
}

func TestDispatchMethodPredicate(t *testing.T) {
	r := New()
	r.Post("/item", okHandler("posted"))

	resp, _ := r.Dispatch(newReq("GET", "/item"))
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for unmatched method, got %d", resp.StatusCode)
	}

	resp, _ = r.Dispatch(newReq("POST", "/item"))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDispatchNotFound(t *testing.T) {
	r := New()
	resp, _ := r.Dispatch(newReq("GET", "/missing"))
	if resp.StatusCode != 404 {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
}

func TestMiddlewareOrderingFirstRegisteredIsOutermost(t *testing.T) {
	r := New()
	var order []string
	mw := func(name string) Middleware {
		return func(req *message.Request, next Next) (*message.Response, error) {
			order = append(order, name+":in")
			resp, err := next(req)
			order = append(order, name+":out")
			return resp, err
		}
	}
	r.Use(mw("outer"))
	r.Use(mw("inner"))
	r.Get("/x", func(req *message.Request) (*message.Response, error) {
		order = append(order, "handler")
		return message.NewResponse(200), nil
	})

	if _, err := r.Dispatch(newReq("GET", "/x")); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	want := []string{"outer:in", "inner:in", "handler", "inner:out", "outer:out"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestMountStripsPrefix(t *testing.T) {
	sub := New()
	sub.Get("/ping", okHandler("pong"))

	r := New()
	r.Mount("/api", sub)

	resp, err := r.Dispatch(newReq("GET", "/api/ping"))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if resp.StatusCode != 200 || resp.Headers.Get("X-Body") != "pong" {
		t.Fatalf("expected mounted route to answer, got %+v", resp)
	}
}

func TestPathParamFlowsToHandler(t *testing.T) {
	r := New()
	var captured string
	r.Get("/users/:id", func(req *message.Request) (*message.Response, error) {
		captured = req.PathParam("id")
		return message.NewResponse(200), nil
	})
	if _, err := r.Dispatch(newReq("GET", "/users/7")); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if captured != "7" {
		t.Fatalf("got %q, want 7", captured)
	}
}

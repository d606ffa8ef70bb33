package router

import (
	"testing"

	"github.com/wiretide/httpcore/pkg/message"
)

type counterState struct {
	hits *int
}

func TestStatefulRouterHandlerReceivesState(t *testing.T) {
	hits := 0
	r := WithState(counterState{hits: &hits})
	r.Get("/items/:id", func(req *message.Request, state counterState) (*message.Response, error) {
		*state.hits++
		params := req.Ext["path_params"].(map[string]string)
		resp := message.NewResponse(200)
		resp.Headers.Set("X-Id", params["id"])
		return resp, nil
	})

	resp, err := r.Dispatch(newReq("GET", "/items/7"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Headers.Get("X-Id") != "7" {
		t.Fatalf("got %q, want 7", resp.Headers.Get("X-Id"))
	}
	if hits != 1 {
		t.Fatalf("got %d hits, want 1", hits)
	}
}

func TestStatefulRouterMiddlewareOrderingFirstRegisteredIsOutermost(t *testing.T) {
	var order []string
	r := WithState(struct{}{})
	r.Use(func(req *message.Request, state struct{}, next StatefulNext[struct{}]) (*message.Response, error) {
		order = append(order, "outer")
		return next(req, state)
	})
	r.Use(func(req *message.Request, state struct{}, next StatefulNext[struct{}]) (*message.Response, error) {
		order = append(order, "inner")
		return next(req, state)
	})
	r.Get("/", func(req *message.Request, state struct{}) (*message.Response, error) {
		order = append(order, "handler")
		return message.NewResponse(200), nil
	})

	if _, err := r.Dispatch(newReq("GET", "/")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestStatefulRouterMount(t *testing.T) {
	hits := 0
	sub := WithState(counterState{hits: &hits})
	sub.Get("/ping", func(req *message.Request, state counterState) (*message.Response, error) {
		*state.hits++
		return message.NewResponse(200), nil
	})

	top := WithState(counterState{hits: &hits})
	top.Mount("/api", sub)

	resp, err := top.Dispatch(newReq("GET", "/api/ping"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	if hits != 1 {
		t.Fatalf("got %d hits, want 1", hits)
	}
}

func TestStatefulRouterNotFound(t *testing.T) {
	r := WithState(struct{}{})
	resp, _ := r.Dispatch(newReq("GET", "/missing"))
	if resp.StatusCode != 404 {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
}

package httpcore

import (
	"context"
	"io"
	"os"
	"testing"
	"time"
)

func startTestServer(t *testing.T, rt *Router) *Server {
	t.Helper()
	srv := NewServer(rt, DefaultServerOptions("127.0.0.1:0"))
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func overrideFor(srv *Server) *Override {
	host, port := splitAddr(srv.Addr())
	return &Override{Host: host, Port: port}
}

func splitAddr(addr string) (string, int) {
	var host string
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host = addr[:i]
			for _, c := range addr[i+1:] {
				port = port*10 + int(c-'0')
			}
			break
		}
	}
	if host == "127.0.0.1" || host == "" {
		host = "127.0.0.1"
	}
	return host, port
}

func TestDoSimpleGet(t *testing.T) {
	rt := NewRouter()
	rt.Get("/ping", func(req *Request) (*Response, error) {
		resp := NewResponse(200)
		resp.Headers.Set("Content-Type", "text/plain")
		return resp, nil
	})
	srv := startTestServer(t, rt)

	agent := NewAgent(DefaultAgentOptions())
	req, err := NewRequest("GET", "http://example.invalid/ping")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := agent.Do(ctx, req, RequestOptions{Override: overrideFor(srv)})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
}

func TestDoFollowsRedirect(t *testing.T) {
	rt := NewRouter()
	rt.Get("/start", func(req *Request) (*Response, error) {
		resp := NewResponse(302)
		resp.Headers.Set("Location", "/end")
		return resp, nil
	})
	rt.Get("/end", func(req *Request) (*Response, error) {
		resp := NewResponse(200)
		resp.Headers.Set("X-Landed", "end")
		return resp, nil
	})
	srv := startTestServer(t, rt)

	agent := NewAgent(DefaultAgentOptions())
	req, err := NewRequest("GET", "http://example.invalid/start")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := agent.Do(ctx, req, RequestOptions{Override: overrideFor(srv)})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != 200 || resp.Headers.Get("X-Landed") != "end" {
		t.Fatalf("expected redirect to be followed to /end, got status=%d headers=%v", resp.StatusCode, resp.Headers)
	}
}

func TestDoJSONRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	rt := NewRouter()
	rt.Post("/echo", func(req *Request) (*Response, error) {
		var p payload
		if err := JSON(&Response{Body: req.Body}, &p); err != nil {
			return NewResponse(400), nil
		}
		resp := NewResponse(200)
		if err := WithJSON(resp, p); err != nil {
			return nil, err
		}
		return resp, nil
	})
	srv := startTestServer(t, rt)

	agent := NewAgent(DefaultAgentOptions())
	req, err := NewRequest("POST", "http://example.invalid/echo")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := WithJSON(req, payload{Name: "widget"}); err != nil {
		t.Fatalf("with json: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := agent.Do(ctx, req, RequestOptions{Override: overrideFor(srv)})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	var got payload
	if err := JSON(resp, &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Name != "widget" {
		t.Fatalf("got %+v", got)
	}
}

func TestFileHandlerServesThroughServer(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/hello.txt"
	if err := os.WriteFile(path, []byte("hello from disk"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	rt := NewRouter()
	rt.Get("/files/*path", FileHandler(dir))
	srv := startTestServer(t, rt)

	agent := NewAgent(DefaultAgentOptions())
	req, err := NewRequest("GET", "http://example.invalid/files/hello.txt")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := agent.Do(ctx, req, RequestOptions{Override: overrideFor(srv)})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("got %d", resp.StatusCode)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != "hello from disk" {
		t.Fatalf("got %q", got)
	}
}

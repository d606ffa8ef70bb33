package h2

import (
	"context"
	"net"
	"testing"
	"time"
)

// h2 exchanges SETTINGS frames from both ends right after the preface
// with no intervening read, so net.Pipe's unbuffered, fully-synchronous
// Write (which blocks until a peer Read drains it) would deadlock the
// two sides against each other. A real loopback socket, like
// pkg/wire/pkg/runtime's tests use, gives both sides enough kernel
// buffering to complete their handshake independently.
func dialH2Pair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		acceptCh <- c
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case s := <-acceptCh:
		return c, s
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for accept")
	}
	return nil, nil
}

func TestClientServerRequestResponseRoundTrip(t *testing.T) {
	clientConn, serverConn := dialH2Pair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	var gotReq *IncomingRequest
	go func() {
		sc, err := NewServerConnection(serverConn)
		if err != nil {
			serverDone <- err
			return
		}
		ir, err := sc.AcceptRequest()
		if err != nil {
			serverDone <- err
			return
		}
		gotReq = ir
		resp := map[string][]string{"content-type": {"text/plain"}}
		if err := sc.SendResponse(ir.Stream, 200, resp, false); err != nil {
			serverDone <- err
			return
		}
		if err := sc.SendResponseData(ir.Stream, []byte("hello h2"), true); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	cc, err := NewClientConnection(clientConn)
	if err != nil {
		t.Fatalf("client connection: %v", err)
	}
	stream := cc.AllocateStream()
	pseudo := map[string]string{
		":method":    "GET",
		":path":      "/hello",
		":scheme":    "http",
		":authority": "example.com",
	}
	if err := cc.SendRequest(stream, pseudo, map[string][]string{"x-test": {"1"}}, true); err != nil {
		t.Fatalf("send request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cc.ReadStreamToEnd(ctx, stream); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if stream.Status != 200 {
		t.Fatalf("got status %d, want 200", stream.Status)
	}
	if string(stream.Body) != "hello h2" {
		t.Fatalf("got body %q", stream.Body)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for server goroutine")
	}

	if gotReq == nil {
		t.Fatalf("server never recorded an incoming request")
	}
	if gotReq.Method != "GET" || gotReq.Path != "/hello" || gotReq.Authority != "example.com" {
		t.Fatalf("got %+v", gotReq)
	}
	if gotReq.Headers["x-test"] == nil || gotReq.Headers["x-test"][0] != "1" {
		t.Fatalf("expected custom header to survive, got %+v", gotReq.Headers)
	}
}

// TestReadStreamToEndDemultiplexesConcurrentStreams drives two streams
// on one Connection concurrently and interleaves the server's replies
// (answering the second stream first), confirming that readLoop's
// central dispatch delivers each stream's frames to its own
// ReadStreamToEnd call instead of one goroutine consuming (or dropping)
// frames meant for the other — the scenario a pooled, always-reusable
// H2 Connection must support under genuine concurrent Agent.Do use.
func TestReadStreamToEndDemultiplexesConcurrentStreams(t *testing.T) {
	clientConn, serverConn := dialH2Pair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		sc, err := NewServerConnection(serverConn)
		if err != nil {
			serverDone <- err
			return
		}
		first, err := sc.AcceptRequest()
		if err != nil {
			serverDone <- err
			return
		}
		second, err := sc.AcceptRequest()
		if err != nil {
			serverDone <- err
			return
		}
		// Answer the second-requested stream first, to confirm the
		// client's first ReadStreamToEnd call doesn't swallow or hang
		// on a HEADERS frame addressed to the other stream.
		if err := sc.SendResponse(second.Stream, 200, map[string][]string{"x-which": {"second"}}, false); err != nil {
			serverDone <- err
			return
		}
		if err := sc.SendResponseData(second.Stream, []byte("second"), true); err != nil {
			serverDone <- err
			return
		}
		if err := sc.SendResponse(first.Stream, 200, map[string][]string{"x-which": {"first"}}, false); err != nil {
			serverDone <- err
			return
		}
		if err := sc.SendResponseData(first.Stream, []byte("first"), true); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	cc, err := NewClientConnection(clientConn)
	if err != nil {
		t.Fatalf("client connection: %v", err)
	}
	streamA := cc.AllocateStream()
	streamB := cc.AllocateStream()
	pseudo := func(path string) map[string]string {
		return map[string]string{":method": "GET", ":path": path, ":scheme": "http", ":authority": "example.com"}
	}
	if err := cc.SendRequest(streamA, pseudo("/a"), nil, true); err != nil {
		t.Fatalf("send request a: %v", err)
	}
	if err := cc.SendRequest(streamB, pseudo("/b"), nil, true); err != nil {
		t.Fatalf("send request b: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, 2)
	go func() {
		results <- result{"a", cc.ReadStreamToEnd(ctx, streamA)}
	}()
	go func() {
		results <- result{"b", cc.ReadStreamToEnd(ctx, streamB)}
	}()

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Fatalf("ReadStreamToEnd(%s): %v", r.name, r.err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for concurrent ReadStreamToEnd calls")
		}
	}

	if string(streamA.Body) != "first" || streamA.Headers["x-which"][0] != "first" {
		t.Fatalf("stream a got body %q headers %+v", streamA.Body, streamA.Headers)
	}
	if string(streamB.Body) != "second" || streamB.Headers["x-which"][0] != "second" {
		t.Fatalf("stream b got body %q headers %+v", streamB.Body, streamB.Headers)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for server goroutine")
	}
}

func TestAllocateStreamUsesOddClientIDs(t *testing.T) {
	clientConn, serverConn := dialH2Pair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_, _ = NewServerConnection(serverConn)
	}()

	cc, err := NewClientConnection(clientConn)
	if err != nil {
		t.Fatalf("client connection: %v", err)
	}
	s1 := cc.AllocateStream()
	s2 := cc.AllocateStream()
	if s1.ID != 1 || s2.ID != 3 {
		t.Fatalf("got ids %d, %d; want 1, 3", s1.ID, s2.ID)
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	clientConn, serverConn := dialH2Pair(t)
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		_, _ = NewServerConnection(serverConn)
		close(done)
	}()

	cc, err := NewClientConnection(clientConn)
	if err != nil {
		t.Fatalf("client connection: %v", err)
	}
	if err := cc.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := cc.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	<-done
}

package runtime

import (
	"context"
	"testing"
	"time"
)

func TestDefaultSpawnRuns(t *testing.T) {
	d := NewDefault()
	done := make(chan struct{})
	d.Spawn(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Spawn did not run the function")
	}
}

func TestDefaultListenAndDial(t *testing.T) {
	d := NewDefault()
	ln, err := d.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		accepted <- err
	}()

	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	if err := <-accepted; err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestDefaultTimerFires(t *testing.T) {
	d := NewDefault()
	c, stop := d.Timer(time.Millisecond)
	defer stop()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}
}

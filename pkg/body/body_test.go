package body

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
	"time"
)

func TestBodyPlainRoundTrip(t *testing.T) {
	b := NewReaderBody(bytes.NewReader([]byte("hello")), 5)
	if err := b.Configure(Params{}, nil, true, time.Time{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	got, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestBodyConfigureTwicePanics(t *testing.T) {
	b := NewEmptyBody()
	if err := b.Configure(Params{}, nil, true, time.Time{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected second Configure to panic")
		}
	}()
	b.Configure(Params{}, nil, true, time.Time{})
}

func TestBodyReadBeforeConfigurePanics(t *testing.T) {
	b := NewEmptyBody()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Read before Configure to panic")
		}
	}()
	b.Read(make([]byte, 1))
}

func TestBodyGzipDecode(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("compressed payload"))
	gw.Close()

	b := NewReaderBody(&buf, int64(buf.Len()))
	headers := map[string][]string{"Content-Encoding": {"gzip"}}
	if err := b.Configure(Params{}, headers, true, time.Time{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	got, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "compressed payload" {
		t.Fatalf("got %q", got)
	}
}

func TestBodyGzipEncodeOnSend(t *testing.T) {
	b := NewReaderBody(bytes.NewReader([]byte("to be compressed")), -1)
	if err := b.Configure(Params{ContentEncode: true}, nil, false, time.Time{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	compressed, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("not valid gzip: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	if string(got) != "to be compressed" {
		t.Fatalf("got %q", got)
	}
}

func TestBodyFinalizeCallsOnEOFOnce(t *testing.T) {
	calls := 0
	b := NewH1Body(bytes.NewReader([]byte("x")), 1, func(ok bool) {
		calls++
		if !ok {
			t.Fatalf("expected ok=true on clean EOF")
		}
	})
	if err := b.Configure(Params{}, nil, true, time.Time{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	io.ReadAll(b)
	b.Close() // closing after a clean EOF must not call onEOF a second time
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

func TestBodyCloseEarlyFinalizesNotOK(t *testing.T) {
	var got bool
	b := NewH1Body(bytes.NewReader([]byte("unread")), 6, func(ok bool) { got = ok })
	if err := b.Configure(Params{}, nil, true, time.Time{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	b.Close()
	if got {
		t.Fatalf("expected early close to finalize with ok=false")
	}
}

func TestBodyExpiredDeadline(t *testing.T) {
	b := NewReaderBody(bytes.NewReader([]byte("x")), 1)
	if err := b.Configure(Params{}, nil, true, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := b.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected expired deadline to error")
	}
}

package buffer

import (
	"io"
	"testing"
)

func TestBufferStaysInMemoryUnderLimit(t *testing.T) {
	buf := New(1024)
	defer buf.Close()

	if _, err := buf.Write([]byte("small")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if buf.IsSpilled() {
		t.Fatalf("expected data to stay in memory")
	}
	if string(buf.Bytes()) != "small" {
		t.Fatalf("unexpected bytes: %q", buf.Bytes())
	}
}

func TestBufferSpillsPastLimit(t *testing.T) {
	buf := New(10)
	defer buf.Close()

	if _, err := buf.Write([]byte("small")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if buf.IsSpilled() {
		t.Fatalf("should not have spilled yet")
	}

	if _, err := buf.Write([]byte("this pushes it well past the limit")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !buf.IsSpilled() {
		t.Fatalf("expected spill to disk")
	}
	if buf.Bytes() != nil {
		t.Fatalf("expected no in-memory bytes after spill")
	}
	if buf.Path() == "" {
		t.Fatalf("expected a backing temp file path")
	}
}

func TestBufferReaderRoundTrip(t *testing.T) {
	buf := New(4)
	defer buf.Close()

	want := "spills onto disk because it is long"
	if _, err := buf.Write([]byte(want)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r, err := buf.Reader()
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBufferCloseIsIdempotent(t *testing.T) {
	buf := New(4)
	if _, err := buf.Write([]byte("spilled content here")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := buf.Write([]byte("x")); err == nil {
		t.Fatalf("expected write after close to fail")
	}
}

package server

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wiretide/httpcore/pkg/message"
	"github.com/wiretide/httpcore/pkg/router"
)

// FileHandler serves files under root, supporting single-range GET
// requests (RFC 7233 §3.1: "bytes=start-end", "bytes=start-", and
// "bytes=-suffix"), the SPEC_FULL.md §12 item 8 supplemented feature.
// The path's "path" wildcard capture (see pkg/router's Pattern) names
// the file relative to root.
//
// Grounded on reading (not importing) net/http.ServeContent's range
// algorithm and written against this package's own message types.
func FileHandler(root string) router.Handler {
	return func(req *message.Request) (*message.Response, error) {
		rel := req.PathParam("path")
		clean := filepath.Clean("/" + rel)
		full := filepath.Join(root, clean)

		f, err := os.Open(full)
		if err != nil {
			return message.NewResponse(404), nil
		}
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			f.Close()
			return message.NewResponse(404), nil
		}

		ctype := mime.TypeByExtension(filepath.Ext(full))
		if ctype == "" {
			ctype = "application/octet-stream"
		}

		rangeHeader := req.Headers.Get("Range")
		if rangeHeader == "" {
			resp := message.NewResponse(200)
			resp.Headers.Set("Content-Type", ctype)
			resp.Headers.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
			resp.Headers.Set("Accept-Ranges", "bytes")
			resp.Headers.Set("Last-Modified", info.ModTime().UTC().Format(http1Date))
			if req.Method == "HEAD" {
				f.Close()
			} else {
				resp.Body = f
			}
			return resp, nil
		}

		start, end, ok := parseRange(rangeHeader, info.Size())
		if !ok {
			f.Close()
			resp := message.NewResponse(416)
			resp.Headers.Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size()))
			return resp, nil
		}

		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return message.NewResponse(500), nil
		}
		length := end - start + 1
		resp := message.NewResponse(206)
		resp.Headers.Set("Content-Type", ctype)
		resp.Headers.Set("Content-Length", strconv.FormatInt(length, 10))
		resp.Headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size()))
		resp.Headers.Set("Accept-Ranges", "bytes")
		if req.Method == "HEAD" {
			f.Close()
		} else {
			resp.Body = &fileReadCloser{r: io.NewSectionReader(f, start, length), c: f}
		}
		return resp, nil
	}
}

// parseRange implements the single-range subset of RFC 7233 §2.1: a
// Range header naming more than one byte-range-spec is rejected (ok
// is false) rather than honored as multipart/byteranges.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// suffix range: last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	s, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || s < 0 || s >= size {
		return 0, 0, false
	}
	if endStr == "" {
		return s, size - 1, true
	}
	e, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || e < s {
		return 0, 0, false
	}
	if e >= size {
		e = size - 1
	}
	return s, e, true
}

// fileReadCloser pairs a section reader over an open file with that
// file's Close, so the underlying *os.File outlives FileHandler's
// return and is closed once the dispatcher finishes draining the body.
type fileReadCloser struct {
	r io.Reader
	c io.Closer
}

func (f *fileReadCloser) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fileReadCloser) Close() error               { return f.c.Close() }

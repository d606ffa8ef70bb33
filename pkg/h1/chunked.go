package h1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	httperrors "github.com/wiretide/httpcore/pkg/errors"
)

// ChunkedWriter implements the chunked transfer-encoding encoder:
// each Write emits "{len-hex}\r\n{data}\r\n"; Close emits "0\r\n\r\n".
type ChunkedWriter struct {
	w io.Writer
}

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

func (c *ChunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(c.w, "%x\r\n", len(p)); err != nil {
		return 0, httperrors.NewIOError("write chunk size", err)
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, httperrors.NewIOError("write chunk data", err)
	}
	if _, err := io.WriteString(c.w, "\r\n"); err != nil {
		return n, httperrors.NewIOError("write chunk terminator", err)
	}
	return n, nil
}

func (c *ChunkedWriter) Close() error {
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	if err != nil {
		return httperrors.NewIOError("write final chunk", err)
	}
	return nil
}

// ContentLengthWriter tracks cumulative sent bytes and fails before
// producing bytes beyond the declared length.
type ContentLengthWriter struct {
	w         io.Writer
	declared  int64
	sent      int64
}

func NewContentLengthWriter(w io.Writer, declared int64) *ContentLengthWriter {
	return &ContentLengthWriter{w: w, declared: declared}
}

func (c *ContentLengthWriter) Write(p []byte) (int, error) {
	if c.sent+int64(len(p)) > c.declared {
		return 0, httperrors.NewH1ParseError("write body", "write exceeds declared Content-Length")
	}
	n, err := c.w.Write(p)
	c.sent += int64(n)
	if err != nil {
		return n, httperrors.NewIOError("write body", err)
	}
	return n, nil
}

func (c *ContentLengthWriter) Close() error { return nil }

// maxChunkSizeHexDigits caps chunk-size line length per SPEC_FULL.md §5
// ("chunk size parsing caps at 10 hex digits").
const maxChunkSizeHexDigits = 10

// ChunkedReader implements the chunked decoder state machine:
// ReadChunkSize → SkipToLF → ReadChunk(n) → SkipToLF → (repeat) → End.
// Trailers following the terminal zero-length chunk are parsed and
// merged into Trailers via ParseHeaderBlock-style folding.
type ChunkedReader struct {
	r        *bufio.Reader
	remain   int64 // bytes left in the current chunk
	done     bool
	Trailers map[string][]string
}

func NewChunkedReader(r *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{r: r}
}

func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, err
			}
			c.done = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.r.Read(p)
	c.remain -= int64(n)
	if err != nil && err != io.EOF {
		return n, httperrors.NewIOError("read chunk", err)
	}
	if c.remain == 0 {
		if err := c.skipCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// readChunkSize parses a "{hex}[;ext...]\r\n" line, rejecting anything
// longer than maxChunkSizeHexDigits hex digits before the terminator.
func (c *ChunkedReader) readChunkSize() (int64, error) {
	var digits []byte
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return 0, httperrors.NewIOError("read chunk size", err)
		}
		switch {
		case b == ';' || b == '\r':
			if b == '\r' {
				if nb, _ := c.r.ReadByte(); nb != '\n' {
					return 0, httperrors.NewH1ParseError("chunk size", "missing LF after CR")
				}
			} else {
				// discard chunk extensions up to CRLF
				if err := c.skipToEOL(); err != nil {
					return 0, err
				}
			}
			return parseHexChunkSize(digits)
		case b == '\n':
			return parseHexChunkSize(digits)
		case isHexDigit(b):
			digits = append(digits, b)
			if len(digits) > maxChunkSizeHexDigits {
				return 0, httperrors.NewH1ParseError("chunk size", "chunk size too long")
			}
		default:
			return 0, httperrors.NewH1ParseError("chunk size", fmt.Sprintf("invalid chunk size byte %q", b))
		}
	}
}

func parseHexChunkSize(digits []byte) (int64, error) {
	if len(digits) == 0 {
		return 0, httperrors.NewH1ParseError("chunk size", "empty chunk size")
	}
	v, err := strconv.ParseInt(string(digits), 16, 64)
	if err != nil {
		return 0, httperrors.NewH1ParseError("chunk size", "malformed hex chunk size")
	}
	return v, nil
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func (c *ChunkedReader) skipToEOL() error {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return httperrors.NewIOError("skip chunk extension", err)
		}
		if b == '\n' {
			return nil
		}
	}
}

func (c *ChunkedReader) skipCRLF() error {
	cr, err := c.r.ReadByte()
	if err != nil {
		return httperrors.NewIOError("read chunk terminator", err)
	}
	if cr != '\r' {
		return httperrors.NewH1ParseError("chunk terminator", "expected CR after chunk data")
	}
	lf, err := c.r.ReadByte()
	if err != nil {
		return httperrors.NewIOError("read chunk terminator", err)
	}
	if lf != '\n' {
		return httperrors.NewH1ParseError("chunk terminator", "expected LF after chunk data")
	}
	return nil
}

func (c *ChunkedReader) readTrailers() error {
	hdrs, err := ParseHeaderBlock(c.r)
	if err != nil {
		return err
	}
	c.Trailers = hdrs
	return nil
}

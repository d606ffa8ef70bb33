package h1

import (
	"bufio"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	httperrors "github.com/wiretide/httpcore/pkg/errors"
)

// maxHeaderCount is the "generous but fixed" cap SPEC_FULL.md §4.1
// requires (>= 128).
const maxHeaderCount = 256

// maxHeaderBytes bounds total header-block size, grounded on the
// teacher's client.go readHeaders cap.
const maxHeaderBytes = 64 * 1024

// RequestLine is the parsed first line of an HTTP/1.1 request.
type RequestLine struct {
	Method  string
	Target  string
	Version string
}

// StatusLine is the parsed first line of an HTTP/1.1 response.
type StatusLine struct {
	Version string
	Code    int
	Reason  string
}

// ParseStatusLine splits "HTTP/1.1 200 OK" into its three fields,
// mirroring the teacher's parseStatusLine (SplitN on space, 3 parts).
func ParseStatusLine(line string) (StatusLine, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, httperrors.NewH1ParseError("status line", "malformed status line: "+line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, httperrors.NewH1ParseError("status line", "non-numeric status code")
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Version: parts[0], Code: code, Reason: reason}, nil
}

// ParseRequestLine splits "GET /path HTTP/1.1" into its three fields.
func ParseRequestLine(line string) (RequestLine, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, httperrors.NewH1ParseError("request line", "malformed request line: "+line)
	}
	return RequestLine{Method: strings.ToUpper(parts[0]), Target: parts[1], Version: parts[2]}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", httperrors.NewIOError("read line", err)
	}
	return line, nil
}

// ParseHeaderBlock reads CRLF-terminated header lines up to the empty
// terminating line, implementing RFC 7230 §3.2.4 continuation folding
// (a line starting with SP/HT is appended to the previous header's
// last value) and canonicalizing names via textproto. Per
// SPEC_FULL.md §4.1, malformed individual header lines are dropped
// rather than failing the whole block; exceeding maxHeaderCount or
// maxHeaderBytes is fatal (H1Parse).
func ParseHeaderBlock(r *bufio.Reader) (map[string][]string, error) {
	headers := make(map[string][]string)
	var lastKey string
	count := 0
	totalBytes := 0

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		totalBytes += len(line)
		if totalBytes > maxHeaderBytes {
			return nil, httperrors.NewH1ParseError("headers", "header block too large")
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return headers, nil // terminating blank line
		}

		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			// continuation: fold into the previous header's last value
			vs := headers[lastKey]
			if len(vs) > 0 {
				vs[len(vs)-1] = vs[len(vs)-1] + " " + strings.TrimSpace(trimmed)
				headers[lastKey] = vs
			}
			continue
		}

		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			// malformed header line: drop it, per spec's lenient policy
			continue
		}
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(trimmed[:idx]))
		value := strings.TrimSpace(trimmed[idx+1:])
		if name == "" {
			continue
		}
		if count >= maxHeaderCount {
			return nil, httperrors.NewH1ParseError("headers", fmt.Sprintf("too many headers (max %d)", maxHeaderCount))
		}
		headers[name] = append(headers[name], value)
		lastKey = name
		count++
	}
}

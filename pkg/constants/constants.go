// Package constants defines magic numbers and default values shared
// across httpcore's protocol engines. Every constant here is read by at
// least one other package; a value with no caller belongs in that
// package's own defaults, not here.
package constants

import "time"

// HTTP/2 limits
const (
	// DefaultHpackTableSize sizes both the encoder's and decoder's HPACK
	// dynamic table when neither peer has negotiated otherwise.
	DefaultHpackTableSize = 4096
)

// HTTP limits
const (
	// MaxContentLength bounds a declared Content-Length accepted as
	// unambiguous framing; a header claiming more is treated as
	// malformed and the connection falls back to read-until-close.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits
const (
	// DefaultBodyMemLimit is the in-memory threshold before pkg/buffer
	// spills a buffered body to a temp file.
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)

// Agent retry/backoff defaults
const (
	// DefaultRetryBaseDelay is Agent.Do's initial retry backoff for an
	// idempotent request that failed with a retryable transport error.
	DefaultRetryBaseDelay = 125 * time.Millisecond

	// DefaultRetryMaxDelay caps Agent.Do's exponential retry backoff.
	DefaultRetryMaxDelay = 10 * time.Second

	// DefaultAcceptBackoff is the pause Server.ListenAndServe takes
	// after a failed Accept before trying again.
	DefaultAcceptBackoff = time.Second
)

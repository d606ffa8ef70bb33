// Package server implements the accept-and-dispatch half of
// SPEC_FULL.md §4.7: bind, accept-loop with backoff, H1/H2 protocol
// detection (ALPN then preface peek), and per-connection request
// pipelines that dispatch into a pkg/router Router.
//
// Grounded on the teacher's absence of any server component (the
// teacher is client-only) — the accept-loop/backoff shape and the
// Server/Date default-filling are ported from
// original_source/src/server/mod.rs, written in the teacher's
// idiom (same error taxonomy; zerolog logs the accept-failure and
// handler-error events).
package server

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"

	"github.com/wiretide/httpcore/pkg/constants"
	"github.com/wiretide/httpcore/pkg/runtime"
)

// Options configures a Server.
type Options struct {
	Addr      string // "host:port"; host empty binds 0.0.0.0
	TLSConfig *tls.Config

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AcceptBackoff is the pause after a failed Accept, per
	// SPEC_FULL.md §4.7 ("on accept failure, back off one second").
	AcceptBackoff time.Duration

	// Runtime supplies Listen when set (plaintext listeners only — TLS
	// listeners always go through crypto/tls.Listen, since runtime.Runtime
	// has no TLS-aware Listen variant), letting callers substitute the
	// injectable async runtime from SPEC_FULL.md §5.
	Runtime runtime.Runtime

	Logger zerolog.Logger
}

func DefaultOptions(addr string) Options {
	return Options{
		Addr:          addr,
		AcceptBackoff: constants.DefaultAcceptBackoff,
		Runtime:       runtime.NewDefault(),
		Logger:        zerolog.Nop(),
	}
}

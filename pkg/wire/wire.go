// Package wire is the byte-stream abstraction: it turns a HostPort into
// a net.Conn, optionally TLS-wrapped, with ALPN negotiated and SNI
// configured. pkg/client dials through it and hands the connection to
// pkg/h1 or pkg/h2, neither of which imports it.
//
// Grounded on the teacher's pkg/transport/transport.go Connect/upgradeTLS/
// ConfigureSNI, generalized: proxy-specific dialing is dropped (see
// DESIGN.md) in favor of a pluggable DialFunc an operator can wrap with
// their own proxy logic.
package wire

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	httperrors "github.com/wiretide/httpcore/pkg/errors"
	"github.com/wiretide/httpcore/pkg/runtime"
	"github.com/wiretide/httpcore/pkg/tlsconfig"
)

// HostPort is the scheme-aware authority used as the connection-pool key.
// Equality is over (Host, Port, TLS) — see SPEC_FULL.md §3.
type HostPort struct {
	Host string
	Port int
	TLS  bool
}

func (hp HostPort) String() string {
	return fmt.Sprintf("%s:%d", hp.Host, hp.Port)
}

// Equal compares by (Host, Port, TLS) as SPEC_FULL.md requires.
func (hp HostPort) Equal(other HostPort) bool {
	return hp.Host == other.Host && hp.Port == other.Port && hp.TLS == other.TLS
}

// NewHostPort resolves host/port/scheme into a HostPort, applying the
// scheme default port (80/443) when port is zero.
func NewHostPort(scheme, host string, port int) (HostPort, error) {
	tlsOn := strings.EqualFold(scheme, "https")
	if port == 0 {
		if tlsOn {
			port = 443
		} else {
			port = 80
		}
	}
	if host == "" {
		return HostPort{}, httperrors.NewAddrParseError(host, fmt.Errorf("empty host"))
	}
	return HostPort{Host: host, Port: port, TLS: tlsOn}, nil
}

// ParseHostPort splits a "host:port" string, defaulting the port from
// scheme when absent.
func ParseHostPort(scheme, addr string) (HostPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given; treat the whole string as host.
		return NewHostPort(scheme, addr, 0)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return HostPort{}, httperrors.NewAddrParseError(addr, err)
	}
	return NewHostPort(scheme, host, port)
}

// DialFunc establishes the raw (pre-TLS) transport connection. Operators
// that need a SOCKS/HTTP proxy hop supply their own DialFunc; the core
// only ever asks for "give me a net.Conn to addr".
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func DefaultDialFunc() DialFunc {
	var d net.Dialer
	return d.DialContext
}

// Config configures how Connect establishes and (optionally) TLS-wraps a
// connection to a HostPort.
type Config struct {
	HostPort HostPort

	// ALPN protocols to advertise, in preference order. Defaults to
	// ["h2", "http/1.1"] per SPEC_FULL.md §6 when nil.
	ALPN []string

	ServerName         string // explicit SNI override
	DisableSNI         bool
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
	Certificates       []tls.Certificate

	// VersionProfile selects the TLS version range and matching cipher
	// suites (zero value: tlsconfig.ProfileSecure, TLS 1.2+).
	VersionProfile tlsconfig.VersionProfile

	ConnectTimeout time.Duration
	Dial           DialFunc

	// Runtime supplies DialContext when Dial is nil, letting callers
	// substitute the injectable async runtime (SPEC_FULL.md §5) instead
	// of a bare net.Dialer — e.g. a test Runtime that fakes network
	// conditions.
	Runtime runtime.Runtime
}

// ConnMeta records what actually happened during Connect, for callers
// that want to expose connection metadata (protocol negotiated via
// ALPN, TLS version, whether SNI was sent, etc).
type ConnMeta struct {
	NegotiatedProto string
	TLSVersion      uint16
	CipherSuite     uint16
	Resumed         bool
	LocalAddr       string
	RemoteAddr      string
}

// Connect dials cfg.HostPort and, if TLS is requested, performs the
// handshake with ALPN/SNI applied. It returns the resulting net.Conn
// (which is a *tls.Conn when cfg.HostPort.TLS) plus metadata about what
// was negotiated.
func Connect(ctx context.Context, cfg Config) (net.Conn, ConnMeta, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	dial := cfg.Dial
	if dial == nil && cfg.Runtime != nil {
		dial = cfg.Runtime.DialContext
	}
	if dial == nil {
		dial = DefaultDialFunc()
	}
	addr := cfg.HostPort.String()
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, ConnMeta{}, httperrors.NewIOError("dial "+addr, err)
	}

	if !cfg.HostPort.TLS {
		return conn, ConnMeta{
			LocalAddr:  conn.LocalAddr().String(),
			RemoteAddr: conn.RemoteAddr().String(),
		}, nil
	}

	tlsConf := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		RootCAs:            cfg.RootCAs,
		Certificates:       cfg.Certificates,
		NextProtos:         alpnOrDefault(cfg.ALPN),
	}
	profile := cfg.VersionProfile
	if profile.Min == 0 {
		profile = tlsconfig.ProfileSecure
	}
	tlsconfig.ApplyVersionProfile(tlsConf, profile)
	tlsconfig.ApplyCipherSuites(tlsConf, profile.Min)
	configureSNI(tlsConf, cfg)

	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, ConnMeta{}, httperrors.NewTLSError(cfg.HostPort.Host, cfg.HostPort.Port, err)
	}
	st := tlsConn.ConnectionState()
	return tlsConn, ConnMeta{
		NegotiatedProto: st.NegotiatedProtocol,
		TLSVersion:      st.Version,
		CipherSuite:     st.CipherSuite,
		Resumed:         st.DidResume,
		LocalAddr:       tlsConn.LocalAddr().String(),
		RemoteAddr:      tlsConn.RemoteAddr().String(),
	}, nil
}

func alpnOrDefault(alpn []string) []string {
	if len(alpn) > 0 {
		return alpn
	}
	return []string{"h2", "http/1.1"}
}

// configureSNI mirrors the teacher's ConfigureSNI priority order:
// explicit ServerName > DisableSNI (send none) > fallback to host.
func configureSNI(tc *tls.Config, cfg Config) {
	switch {
	case cfg.ServerName != "":
		tc.ServerName = cfg.ServerName
	case cfg.DisableSNI:
		// leave ServerName empty; crypto/tls omits the SNI extension
		// only when InsecureSkipVerify lets verification proceed
		// without a name, so callers combining DisableSNI with cert
		// verification must also supply RootCAs appropriate to that.
	default:
		tc.ServerName = cfg.HostPort.Host
	}
}

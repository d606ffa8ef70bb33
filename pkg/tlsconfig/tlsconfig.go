// Package tlsconfig builds the tls.Config version/cipher profile wire.Connect
// applies to outbound connections, per SPEC_FULL.md's TLS configuration
// section.
package tlsconfig

import "crypto/tls"

// TLS protocol version identifiers, re-exported so callers configuring a
// VersionProfile don't need their own crypto/tls import.
const (
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// VersionProfile is a named [Min, Max] TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileModern is TLS 1.3 only.
	ProfileModern = VersionProfile{
		Min:         VersionTLS13,
		Max:         VersionTLS13,
		Description: "TLS 1.3 only",
	}

	// ProfileSecure is TLS 1.2 and 1.3, the default wire.Connect uses.
	ProfileSecure = VersionProfile{
		Min:         VersionTLS12,
		Max:         VersionTLS13,
		Description: "TLS 1.2+",
	}

	// ProfileCompatible extends down to TLS 1.0 for legacy servers.
	ProfileCompatible = VersionProfile{
		Min:         VersionTLS10,
		Max:         VersionTLS13,
		Description: "TLS 1.0+, maximum compatibility",
	}
)

// GetVersionName returns a human-readable name for a TLS version constant.
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// IsVersionDeprecated reports whether version is weaker than TLS 1.2.
func IsVersionDeprecated(version uint16) bool {
	return version < VersionTLS12
}

// Cipher suites, strongest first. TLS 1.3 negotiates its own suites and
// ignores CipherSuites entirely; these lists only matter below 1.3.
var (
	CipherSuitesTLS12Secure = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}

	CipherSuitesTLS12Compatible = append(append([]uint16{}, CipherSuitesTLS12Secure...),
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	)
)

// GetCipherSuiteName returns a human-readable name for a cipher suite ID.
func GetCipherSuiteName(suite uint16) string {
	if name := tls.CipherSuiteName(suite); name != "" {
		return name
	}
	return "Unknown"
}

// ApplyVersionProfile sets config's version floor/ceiling from profile.
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// ApplyCipherSuites sets config's cipher suite list for the given minimum
// negotiable version. TLS 1.3-only configs leave CipherSuites nil, since
// Go's TLS 1.3 implementation picks its own suites.
func ApplyCipherSuites(config *tls.Config, minVersion uint16) {
	switch {
	case minVersion >= VersionTLS13:
		config.CipherSuites = nil
	case minVersion >= VersionTLS12:
		config.CipherSuites = CipherSuitesTLS12Secure
	default:
		config.CipherSuites = CipherSuitesTLS12Compatible
	}
}

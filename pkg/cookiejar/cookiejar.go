// Package cookiejar implements the per-domain cookie store described
// in SPEC_FULL.md §4.6: effective-domain resolution gated by a
// public-suffix check, and lookup walking from the full host up to its
// parent domains.
//
// Grounded on original_source/src/client/cookies.rs, ported faithfully
// (see SPEC_FULL.md §12 item 2 for the one behavior correction made
// while reading that source). The public-suffix check itself is
// delegated to golang.org/x/net/publicsuffix (a teacher dependency via
// golang.org/x/net, never exercised by the teacher) rather than the
// original's bundled psl/ data file, satisfying "the bundled
// public-suffix list (consumed as a domain classifier)" from
// SPEC_FULL.md §1 as an external collaborator.
package cookiejar

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// sentinelMaxAgeDays is the "far-future instant" sentinel SPEC_FULL.md
// §3/§12 assigns to cookies with no explicit expiry, ported from the
// original's DEFAULT_COOKIE_MAX_AGES_DAYS.
const sentinelMaxAgeDays = 9999

// Cookie is one stored cookie, per SPEC_FULL.md §3.
type Cookie struct {
	Name    string
	Value   string
	Domain  string // explicit Domain attribute as presented, may be empty
	Path    string
	Secure  bool
	Expires time.Time
}

// SentinelExpiry returns the 9999-day-out sentinel used when a cookie
// carries no explicit expiry or max-age.
func SentinelExpiry() time.Time {
	return time.Now().AddDate(0, 0, sentinelMaxAgeDays)
}

type jar struct {
	cookies map[string]Cookie // keyed by name+path, last-write-wins
}

// Jar is the top-level per-domain cookie store: map<domain, jar>.
type Jar struct {
	mu      sync.Mutex
	domains map[string]*jar
}

func New() *Jar {
	return &Jar{domains: make(map[string]*jar)}
}

// Add validates and inserts a cookie observed in response to uri,
// per SPEC_FULL.md §4.6.
func (j *Jar) Add(uri *url.URL, c Cookie) {
	domain, ok := j.effectiveDomain(uri, c.Domain)
	if !ok {
		return // discarded: Domain attribute neither equals nor is a parent of the host
	}
	if isPublicSuffix(domain) {
		return // "com" or "co.uk" may not receive cookies
	}
	if c.Expires.IsZero() {
		c.Expires = SentinelExpiry()
	}
	if c.Path == "" {
		c.Path = "/"
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	dj, ok := j.domains[domain]
	if !ok {
		dj = &jar{cookies: make(map[string]Cookie)}
		j.domains[domain] = dj
	}
	dj.cookies[c.Name+"\x00"+c.Path] = c
}

// effectiveDomain resolves the domain a cookie is stored under: if the
// cookie carries an explicit Domain attribute, it must equal the URI
// host or be a parent domain of it (else the cookie is discarded);
// otherwise the URI host itself is used.
//
// SPEC_FULL.md §12 item 2 records that this matches
// original_source/src/client/cookies.rs's validated_domain exactly —
// no silent fallback, strict discard on mismatch.
func (j *Jar) effectiveDomain(uri *url.URL, cookieDomain string) (string, bool) {
	host := strings.ToLower(uri.Hostname())
	if cookieDomain == "" {
		return host, true
	}
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	if cd == host || isParentDomain(cd, host) {
		return cd, true
	}
	return "", false
}

// isParentDomain reports whether parent is an ancestor domain of host,
// i.e. host == "*.{parent}".
func isParentDomain(parent, host string) bool {
	suffix := "." + parent
	return strings.HasSuffix(host, suffix)
}

// isPublicSuffix reports whether domain is a known public suffix (ICANN
// list) — unknown strings such as "localhost" are NOT public suffixes
// and are therefore permitted, per SPEC_FULL.md §9's preserved Open
// Question decision.
func isPublicSuffix(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(domain)
	return icann && suffix == domain
}

// Get returns the cookies applicable to uri: walking from the full
// host up through its ancestor domains, collecting cookies that
// path-match, respect the Secure/scheme rule, and are unexpired.
func (j *Jar) Get(uri *url.URL) []Cookie {
	host := strings.ToLower(uri.Hostname())
	secureScheme := strings.EqualFold(uri.Scheme, "https")
	now := time.Now()

	var out []Cookie
	seen := make(map[string]bool)

	labels := host
	for {
		j.mu.Lock()
		dj, ok := j.domains[labels]
		j.mu.Unlock()
		if ok {
			for _, c := range dj.cookies {
				if !pathMatch(c.Path, uri.Path) {
					continue
				}
				if c.Secure && !secureScheme {
					continue
				}
				if now.After(c.Expires) {
					continue
				}
				key := c.Name + "\x00" + c.Path
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, c)
			}
		}
		idx := strings.IndexByte(labels, '.')
		if idx < 0 {
			break
		}
		labels = labels[idx+1:]
		if labels == "" {
			break
		}
	}
	return out
}

func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if reqPath == cookiePath {
		return true
	}
	return strings.HasPrefix(reqPath, strings.TrimSuffix(cookiePath, "/")+"/") || strings.HasPrefix(reqPath, cookiePath)
}

// Clear empties the jar, used when an Agent is configured with
// use_cookies turned off (SPEC_FULL.md §4.4: "off clears the jar").
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.domains = make(map[string]*jar)
}

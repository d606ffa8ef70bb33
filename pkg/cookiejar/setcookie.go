package cookiejar

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ParseSetCookie parses one Set-Cookie header value into a Cookie.
// Unknown attributes are ignored; HttpOnly/SameSite are accepted but
// not modeled since nothing in SPEC_FULL.md's data model consumes them.
func ParseSetCookie(value string) (Cookie, bool) {
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return Cookie{}, false
	}
	nv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nv) != 2 || nv[0] == "" {
		return Cookie{}, false
	}
	c := Cookie{Name: strings.TrimSpace(nv[0]), Value: strings.TrimSpace(nv[1])}

	var maxAge *int
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := ""
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}
		switch key {
		case "domain":
			c.Domain = val
		case "path":
			c.Path = val
		case "secure":
			c.Secure = true
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				maxAge = &n
			}
		case "expires":
			if t, err := time.Parse(time.RFC1123, val); err == nil {
				c.Expires = t
			}
		}
	}
	if c.Expires.IsZero() && maxAge != nil {
		c.Expires = time.Now().Add(time.Duration(*maxAge) * time.Second)
	}
	return c, true
}

// RenderCookieHeader formats cookies for a "Cookie: name=value; ..."
// request header, one name=value pair per cookie joined with "; ",
// matching how a browser coalesces cookies into a single header line.
// SPEC_FULL.md §4.4 phrases this as "possibly multiple" headers; this
// implementation follows RFC 6265 §4.2.1's single-header convention,
// which is what the literal scenario in §8 ("carry header cookie:
// Foo=Bar%20Baz") exercises.
func RenderCookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// ApplyToRequest appends matching cookies from j as a Cookie header
// for the given request URI, per SPEC_FULL.md §4.4 step 2a.
func (j *Jar) ApplyToRequest(uri *url.URL, headers map[string][]string) {
	cookies := j.Get(uri)
	if len(cookies) == 0 {
		return
	}
	headers["Cookie"] = append(headers["Cookie"], RenderCookieHeader(cookies))
}

// IngestSetCookies parses every Set-Cookie header in headers and adds
// valid ones to j, per SPEC_FULL.md §4.4 step 2d ("parse set-cookie
// headers into the jar (regardless of redirect)").
func (j *Jar) IngestSetCookies(uri *url.URL, headers map[string][]string) {
	for _, v := range headers["Set-Cookie"] {
		if c, ok := ParseSetCookie(v); ok {
			j.Add(uri, c)
		}
	}
}

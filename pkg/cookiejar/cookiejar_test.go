package cookiejar

import (
	"net/url"
	"testing"
	"time"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestJarAddAndGetExactDomain(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/a")
	j.Add(u, Cookie{Name: "session", Value: "abc"})

	got := j.Get(u)
	if len(got) != 1 || got[0].Value != "abc" {
		t.Fatalf("got %+v", got)
	}
}

func TestJarParentDomainVisibility(t *testing.T) {
	j := New()
	setURI := mustURL(t, "https://www.example.com/")
	j.Add(setURI, Cookie{Name: "a", Value: "1", Domain: "example.com"})

	got := j.Get(mustURL(t, "https://sub.example.com/"))
	if len(got) != 1 {
		t.Fatalf("expected cookie visible on sibling subdomain via parent domain, got %+v", got)
	}
}

func TestJarDiscardsMismatchedDomain(t *testing.T) {
	j := New()
	setURI := mustURL(t, "https://example.com/")
	j.Add(setURI, Cookie{Name: "a", Value: "1", Domain: "other.com"})

	got := j.Get(setURI)
	if len(got) != 0 {
		t.Fatalf("expected cookie with mismatched Domain attribute to be discarded, got %+v", got)
	}
}

func TestJarDiscardsPublicSuffix(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.co.uk/")
	j.Add(u, Cookie{Name: "a", Value: "1", Domain: "co.uk"})

	got := j.Get(mustURL(t, "https://co.uk/"))
	if len(got) != 0 {
		t.Fatalf("expected public-suffix domain to be rejected, got %+v", got)
	}
}

func TestJarSecureCookieScheme(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/")
	j.Add(u, Cookie{Name: "s", Value: "1", Secure: true})

	if got := j.Get(mustURL(t, "http://example.com/")); len(got) != 0 {
		t.Fatalf("expected Secure cookie hidden from plain http, got %+v", got)
	}
	if got := j.Get(u); len(got) != 1 {
		t.Fatalf("expected Secure cookie visible over https, got %+v", got)
	}
}

func TestJarPathMatch(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/app/")
	j.Add(u, Cookie{Name: "p", Value: "1", Path: "/app"})

	if got := j.Get(mustURL(t, "https://example.com/app/sub")); len(got) != 1 {
		t.Fatalf("expected path-prefixed match, got %+v", got)
	}
	if got := j.Get(mustURL(t, "https://example.com/other")); len(got) != 0 {
		t.Fatalf("expected no match outside the cookie path, got %+v", got)
	}
}

func TestJarExpiredCookieOmitted(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/")
	j.Add(u, Cookie{Name: "e", Value: "1", Expires: time.Now().Add(-time.Hour)})

	if got := j.Get(u); len(got) != 0 {
		t.Fatalf("expected expired cookie to be omitted, got %+v", got)
	}
}

func TestJarClear(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/")
	j.Add(u, Cookie{Name: "a", Value: "1"})
	j.Clear()
	if got := j.Get(u); len(got) != 0 {
		t.Fatalf("expected Clear to empty the jar, got %+v", got)
	}
}

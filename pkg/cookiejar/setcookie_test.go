package cookiejar

import (
	"testing"
)

func TestParseSetCookieBasic(t *testing.T) {
	c, ok := ParseSetCookie("name=value; Path=/app; Domain=example.com; Secure")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if c.Name != "name" || c.Value != "value" || c.Path != "/app" || c.Domain != "example.com" || !c.Secure {
		t.Fatalf("got %+v", c)
	}
}

func TestParseSetCookieMaxAge(t *testing.T) {
	c, ok := ParseSetCookie("a=b; Max-Age=60")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if c.Expires.IsZero() {
		t.Fatalf("expected Max-Age to populate Expires")
	}
}

func TestParseSetCookieRejectsMissingName(t *testing.T) {
	if _, ok := ParseSetCookie("=onlyvalue"); ok {
		t.Fatalf("expected cookie with empty name to be rejected")
	}
}

func TestRenderCookieHeaderJoinsWithSemicolon(t *testing.T) {
	got := RenderCookieHeader([]Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}})
	if got != "a=1; b=2" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyToRequestAppendsCookieHeader(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/")
	j.Add(u, Cookie{Name: "Foo", Value: "Bar Baz"})

	headers := map[string][]string{}
	j.ApplyToRequest(u, headers)
	if len(headers["Cookie"]) != 1 {
		t.Fatalf("got %v", headers)
	}
}

func TestIngestSetCookiesPopulatesJar(t *testing.T) {
	j := New()
	u := mustURL(t, "https://example.com/")
	j.IngestSetCookies(u, map[string][]string{"Set-Cookie": {"a=1", "b=2; Path=/x"}})

	got := j.Get(u)
	if len(got) != 1 {
		t.Fatalf("expected only the path-matching cookie at root, got %+v", got)
	}
}

// Package router implements path-pattern compilation and the
// router/middleware dispatch chain, per SPEC_FULL.md §4.8.
//
// Grounded on original_source/src/server/path.rs (tokenizer, segment
// merge/truncation rules) and original_source/src/server/router.rs
// (dispatch order, middleware fold, replace-on-duplicate registration).
package router

import (
	"regexp"
	"strings"
)

// SegmentKind tags a compiled path segment.
type SegmentKind int

const (
	SegLiteral SegmentKind = iota
	SegWildcardSingle // :name
	SegWildcardRest   // *name
)

// Segment is one compiled path element.
type Segment struct {
	Kind    SegmentKind
	Literal string // for SegLiteral
	Name    string // for wildcards; ignored by Equal
}

// Equal compares segments per SPEC_FULL.md §3: "Equality disregards
// wildcard names (so /:a == /:b)".
func (s Segment) Equal(o Segment) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == SegLiteral {
		return s.Literal == o.Literal
	}
	return true
}

// Pattern is a compiled path pattern: an ordered sequence of segments
// plus the regexp used to match and capture against an actual path.
type Pattern struct {
	raw      string
	Segments []Segment
	re       *regexp.Regexp
}

// Equal compares two patterns structurally (segment-by-segment,
// wildcard-name-insensitive), per SPEC_FULL.md §3/§4.8's
// "re-registering an equal path pattern replaces prior endpoints" rule.
func (p *Pattern) Equal(o *Pattern) bool {
	if len(p.Segments) != len(o.Segments) {
		return false
	}
	for i := range p.Segments {
		if !p.Segments[i].Equal(o.Segments[i]) {
			return false
		}
	}
	return true
}

// Compile tokenizes pattern (split on '/') into literal and wildcard
// segments, merges consecutive literals, discards anything following a
// rest wildcard, regex-escapes literals, and anchors the result with
// ^...$.
//
// Grounded on original_source/src/server/path.rs's tokenizer regex
// `(/:|/\*)([_0-9a-zA-Z]*)|(/?[^/]*)` — re-expressed here as an
// explicit segment-by-segment scan over "/"-split tokens, which is the
// idiomatic Go equivalent (Go's regexp does not support the named
// capture groups the Rust implementation layers on top of this same
// tokenizer, so the router builds the matching regexp itself below).
func Compile(pattern string) *Pattern {
	raw := pattern
	tokens := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(tokens) == 1 && tokens[0] == "" {
		tokens = nil
	}

	var segs []Segment
	restSeen := false
	for _, tok := range tokens {
		if restSeen {
			break // segments after a rest-wildcard are discarded at compile time
		}
		switch {
		case strings.HasPrefix(tok, ":"):
			segs = append(segs, Segment{Kind: SegWildcardSingle, Name: tok[1:]})
		case strings.HasPrefix(tok, "*"):
			segs = append(segs, Segment{Kind: SegWildcardRest, Name: tok[1:]})
			restSeen = true
		default:
			if n := len(segs); n > 0 && segs[n-1].Kind == SegLiteral {
				segs[n-1].Literal += "/" + tok
				continue
			}
			segs = append(segs, Segment{Kind: SegLiteral, Literal: tok})
		}
	}

	var b strings.Builder
	b.WriteString("^")
	for _, s := range segs {
		b.WriteString("/")
		switch s.Kind {
		case SegLiteral:
			b.WriteString(regexp.QuoteMeta(s.Literal))
		case SegWildcardSingle:
			b.WriteString("(?P<" + safeGroupName(s.Name) + ">[^/]+)")
		case SegWildcardRest:
			b.WriteString("(?P<" + safeGroupName(s.Name) + ">.+)")
		}
	}
	if len(segs) == 0 {
		b.WriteString("/") // the root pattern matches exactly "/"
	}
	b.WriteString("$")

	return &Pattern{raw: raw, Segments: segs, re: regexp.MustCompile(b.String())}
}

func safeGroupName(name string) string {
	if name == "" {
		return "_"
	}
	return name
}

// Match attempts to match path against the pattern, returning the
// captured wildcard bindings on success.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	out := make(map[string]string)
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out, true
}

// Render re-renders the pattern with the given bindings substituted for
// its wildcard segments, used by SPEC_FULL.md §8 invariant 4's
// round-trip property (compile(render(v)) matches and rebinds v).
func (p *Pattern) Render(bindings map[string]string) string {
	var b strings.Builder
	for _, s := range p.Segments {
		b.WriteString("/")
		switch s.Kind {
		case SegLiteral:
			b.WriteString(s.Literal)
		case SegWildcardSingle, SegWildcardRest:
			b.WriteString(bindings[s.Name])
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

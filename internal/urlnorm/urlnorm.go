// Package urlnorm implements canonical URL comparison for visit tracking.
//
// Two URLs are equivalent when scheme, host and the lowercased, percent-decoded
// pathname (without its trailing slash) match. Fragments are always ignored.
// Query parameters matching a tracking pattern (utm_* by default) are ignored;
// the remaining query parameters are part of the canonical form.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// DefaultTrackingParams are the query parameter patterns stripped before
// comparison. Patterns use glob syntax.
var DefaultTrackingParams = []string{"utm_*"}

// Matcher canonicalizes URLs under a set of tracking-parameter patterns.
// Patterns can be swapped at runtime; a Matcher is safe for concurrent use.
type Matcher struct {
	mu       sync.RWMutex
	tracking []glob.Glob
}

// NewMatcher compiles the given tracking-parameter patterns. Invalid patterns
// are skipped. A nil or empty slice falls back to DefaultTrackingParams.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	m.SetPatterns(patterns)
	return m
}

// SetPatterns replaces the tracking-parameter patterns. Invalid patterns are
// skipped. A nil or empty slice falls back to DefaultTrackingParams.
func (m *Matcher) SetPatterns(patterns []string) {
	if len(patterns) == 0 {
		patterns = DefaultTrackingParams
	}
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, g)
	}
	m.mu.Lock()
	m.tracking = compiled
	m.mu.Unlock()
}

func (m *Matcher) isTracking(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.tracking {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// Canonical returns the canonical form of raw. Unparseable input is returned
// trimmed but otherwise unchanged, so membership tests still behave as plain
// string equality for garbage.
func (m *Matcher) Canonical(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = canonicalPath(u.EscapedPath())
	u.RawPath = ""

	if u.RawQuery != "" {
		u.RawQuery = m.canonicalQuery(u.Query())
	}
	return u.String()
}

// Equivalent reports whether a and b denote the same content item URL.
func (m *Matcher) Equivalent(a, b string) bool {
	return m.Canonical(a) == m.Canonical(b)
}

// canonicalPath percent-decodes each segment, lowercases it, and drops the
// trailing slash. The root path collapses to empty.
func canonicalPath(escaped string) string {
	p := strings.TrimSuffix(escaped, "/")
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if dec, err := url.PathUnescape(s); err == nil {
			s = dec
		}
		segs[i] = strings.ToLower(s)
	}
	return strings.Join(segs, "/")
}

// canonicalQuery drops tracking parameters and re-encodes the rest with
// sorted keys so ordering differences do not break equivalence.
func (m *Matcher) canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if m.isTracking(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

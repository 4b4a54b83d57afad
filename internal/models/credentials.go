package models

import (
	"sort"
	"strings"
)

// Headers is an immutable header set with case-insensitive names.
// Names are stored lowercased, matching HTTP/2 wire form.
type Headers struct {
	values map[string]string
}

// NewHeaders builds a header set from a plain map. Later duplicates (by
// case-insensitive name) win in map iteration order, so callers should not
// pass maps that differ only by case.
func NewHeaders(m map[string]string) Headers {
	h := Headers{values: make(map[string]string, len(m))}
	for k, v := range m {
		h.values[strings.ToLower(k)] = v
	}
	return h
}

// Get returns the value for name and whether it is present
func (h Headers) Get(name string) (string, bool) {
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// Len returns the number of headers
func (h Headers) Len() int {
	return len(h.values)
}

// Names returns the sorted header names
func (h Headers) Names() []string {
	names := make([]string, 0, len(h.values))
	for k := range h.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the headers as a plain map
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// Cookies is an immutable, insertion-ordered cookie set
type Cookies struct {
	names  []string
	values map[string]string
}

// NewCookies builds a cookie set from ordered name/value pairs.
// A repeated name keeps its first position and takes the last value.
func NewCookies(pairs ...[2]string) Cookies {
	c := Cookies{values: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		if _, seen := c.values[p[0]]; !seen {
			c.names = append(c.names, p[0])
		}
		c.values[p[0]] = p[1]
	}
	return c
}

// Get returns the cookie value and whether it is present
func (c Cookies) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Len returns the number of cookies
func (c Cookies) Len() int {
	return len(c.names)
}

// Names returns cookie names in insertion order
func (c Cookies) Names() []string {
	return append([]string(nil), c.names...)
}

// Map returns a copy of the cookies as a plain map
func (c Cookies) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// With returns a new cookie set with name set to value
func (c Cookies) With(name, value string) Cookies {
	pairs := make([][2]string, 0, len(c.names)+1)
	for _, n := range c.names {
		pairs = append(pairs, [2]string{n, c.values[n]})
	}
	pairs = append(pairs, [2]string{name, value})
	return NewCookies(pairs...)
}

// Header renders the cookies as a Cookie request header value
func (c Cookies) Header() string {
	parts := make([]string, 0, len(c.names))
	for _, n := range c.names {
		parts = append(parts, n+"="+c.values[n])
	}
	return strings.Join(parts, "; ")
}

// Bundle is the header/cookie pair needed to impersonate a browser session
// against one site. Bundles are replaced wholesale, never patched.
type Bundle struct {
	Headers Headers
	Cookies Cookies
}

// IsZero reports whether the bundle carries no data
func (b Bundle) IsZero() bool {
	return b.Headers.Len() == 0 && b.Cookies.Len() == 0
}

// CredentialSet holds both bundles produced by one renewal. The backend
// session can only be created once both are present.
type CredentialSet struct {
	Site Bundle // backend site
	Mail Bundle // disposable-email site
}

// Complete reports whether both bundles are present
func (s *CredentialSet) Complete() bool {
	return s != nil && !s.Site.IsZero() && !s.Mail.IsZero()
}

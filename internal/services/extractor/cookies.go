package extractor

import (
	"fmt"
	"strings"

	"github.com/ternarybob/plexus/internal/models"
)

// ParseCookieHeader parses a Cookie request header into an ordered cookie set.
// Entries are split on ';' and then on the first '='; names and values are
// trimmed. Empty entries (e.g. a trailing ';') are skipped.
func ParseCookieHeader(header string) (models.Cookies, error) {
	var pairs [][2]string
	for _, entry := range strings.Split(header, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return models.Cookies{}, fmt.Errorf("%w: %q", models.ErrMalformedCookie, entry)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return models.Cookies{}, fmt.Errorf("%w: empty name in %q", models.ErrMalformedCookie, entry)
		}
		pairs = append(pairs, [2]string{name, strings.TrimSpace(value)})
	}
	return models.NewCookies(pairs...), nil
}

// FindRequest returns the first request (chronologically) whose URL contains match
func FindRequest(trace models.Trace, match string) (models.RecordedRequest, error) {
	for _, req := range trace {
		if strings.Contains(req.URL, match) {
			return req, nil
		}
	}
	return models.RecordedRequest{}, fmt.Errorf("%w: no request matching %q among %d", models.ErrTraceNotFound, match, len(trace))
}

// ExtractSiteCookies returns the cookies sent with the first request whose URL
// contains match. A matching request without a Cookie header yields an empty set.
func ExtractSiteCookies(trace models.Trace, match string) (models.Cookies, error) {
	req, err := FindRequest(trace, match)
	if err != nil {
		return models.Cookies{}, err
	}
	header, _ := req.Header("cookie")
	return ParseCookieHeader(header)
}

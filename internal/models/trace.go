package models

import (
	"strings"
	"time"
)

// RecordedRequest is one request observed by the controlled browser
type RecordedRequest struct {
	ID        string
	URL       string
	Method    string
	Headers   map[string]string
	Timestamp time.Time
}

// Header returns the value of a request header, matched case-insensitively
func (r RecordedRequest) Header(name string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Trace is the chronological list of requests made by a browser session
type Trace []RecordedRequest

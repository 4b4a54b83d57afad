package browser

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/plexus/internal/models"
)

// recorder captures every request the browser sends. Headers from
// RequestWillBeSent are completed by RequestWillBeSentExtraInfo, which
// carries what actually went on the wire (including Cookie).
type recorder struct {
	mu       sync.Mutex
	requests []*models.RecordedRequest
	latest   map[network.RequestID]int
}

func newRecorder() *recorder {
	return &recorder{latest: make(map[network.RequestID]int)}
}

func (r *recorder) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.mu.Lock()
		defer r.mu.Unlock()

		idx, seen := r.latest[e.RequestID]
		// A redirect reuses the request id for a new hop
		if !seen || (e.RedirectResponse != nil && r.requests[idx].URL != "") {
			idx = r.add(e.RequestID)
		}
		req := r.requests[idx]
		req.URL = e.Request.URL
		req.Method = e.Request.Method
		req.Timestamp = time.Now()
		for k, v := range convertHeaders(e.Request.Headers) {
			if _, exists := req.Headers[k]; !exists {
				req.Headers[k] = v
			}
		}

	case *network.EventRequestWillBeSentExtraInfo:
		r.mu.Lock()
		defer r.mu.Unlock()

		idx, seen := r.latest[e.RequestID]
		if !seen {
			idx = r.add(e.RequestID)
		}
		for k, v := range convertHeaders(e.Headers) {
			r.requests[idx].Headers[k] = v
		}
	}
}

// add appends an empty record; callers hold mu
func (r *recorder) add(id network.RequestID) int {
	r.requests = append(r.requests, &models.RecordedRequest{
		ID:        string(id),
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	})
	idx := len(r.requests) - 1
	r.latest[id] = idx
	return idx
}

// trace returns a snapshot of the recorded requests in arrival order.
// Records that never got a URL (extra info without the main event) are skipped.
func (r *recorder) trace() models.Trace {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(models.Trace, 0, len(r.requests))
	for _, req := range r.requests {
		if req.URL == "" {
			continue
		}
		headers := make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			headers[k] = v
		}
		copied := *req
		copied.Headers = headers
		out = append(out, copied)
	}
	return out
}

// convertHeaders lowercases names so the extra-info value replaces the
// page-level one for the same header
func convertHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		name := strings.ToLower(k)
		if s, ok := v.(string); ok {
			out[name] = s
			continue
		}
		out[name] = fmt.Sprintf("%v", v)
	}
	return out
}

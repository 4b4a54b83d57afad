package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/ternarybob/plexus/internal/models"
)

// DefaultTimeout applies when a caller passes a zero timeout
const DefaultTimeout = 30 * time.Second

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}

// NewHTTPClientWithCookies creates an HTTP client whose cookie jar is seeded
// with the captured cookies for baseURL. Cookies set by later responses are
// kept by the jar alongside them.
func NewHTTPClientWithCookies(baseURL *url.URL, cookies models.Cookies, timeout time.Duration) (*http.Client, error) {
	if baseURL == nil || baseURL.Host == "" {
		return nil, fmt.Errorf("base URL with host is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	httpCookies := make([]*http.Cookie, 0, cookies.Len())
	for _, name := range cookies.Names() {
		value, _ := cookies.Get(name)
		httpCookies = append(httpCookies, &http.Cookie{Name: name, Value: value})
	}
	jar.SetCookies(baseURL, httpCookies)

	client := NewDefaultHTTPClient(timeout)
	client.Jar = jar
	return client, nil
}

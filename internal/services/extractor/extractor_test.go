package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/plexus/internal/models"
)

func request(url string, headers map[string]string) models.RecordedRequest {
	return models.RecordedRequest{URL: url, Method: "GET", Headers: headers, Timestamp: time.Now()}
}

func TestParseCookieHeader(t *testing.T) {
	cookies, err := ParseCookieHeader("a=1; b=2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cookies.Names())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, cookies.Map())
}

func TestParseCookieHeader_SplitsOnFirstEquals(t *testing.T) {
	cookies, err := ParseCookieHeader("token=abc==; next-auth.csrf=x%3Dy=z;")
	require.NoError(t, err)
	v, ok := cookies.Get("token")
	require.True(t, ok)
	assert.Equal(t, "abc==", v)
	v, _ = cookies.Get("next-auth.csrf")
	assert.Equal(t, "x%3Dy=z", v)
	assert.Equal(t, 2, cookies.Len())
}

func TestParseCookieHeader_Malformed(t *testing.T) {
	_, err := ParseCookieHeader("a=1; broken")
	assert.ErrorIs(t, err, models.ErrMalformedCookie)
}

func TestExtractSiteCookies_FirstMatchWins(t *testing.T) {
	trace := models.Trace{
		request("https://site.test/", map[string]string{"Cookie": "x=0"}),
		request("https://site.test/api/auth/signin/email", map[string]string{"Cookie": "a=1; b=2"}),
		request("https://site.test/api/auth/signin/email?retry", map[string]string{"Cookie": "a=9"}),
	}

	cookies, err := ExtractSiteCookies(trace, SiteCookieMatch)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, cookies.Map())
}

func TestExtractSiteCookies_NotFound(t *testing.T) {
	trace := models.Trace{request("https://site.test/", nil)}

	_, err := ExtractSiteCookies(trace, SiteCookieMatch)
	assert.ErrorIs(t, err, models.ErrTraceNotFound)
}

func TestMergeHeaders_LaterWinsCaseInsensitive(t *testing.T) {
	trace := models.Trace{
		request("https://site.test/a", map[string]string{"User-Agent": "first", "Baggage": "b1"}),
		request("https://site.test/b", map[string]string{"user-agent": "second"}),
	}

	merged := MergeHeaders(trace)
	assert.Equal(t, "second", merged["user-agent"])
	assert.Equal(t, "b1", merged["baggage"])
}

func TestExtractSiteHeaders_FillsTemplate(t *testing.T) {
	trace := models.Trace{
		request("https://www.site.test/", map[string]string{
			"sec-ch-ua":          `"Chromium";v="120"`,
			"sec-ch-ua-platform": `"Linux"`,
			"user-agent":         "agent/1",
		}),
		request("https://www.site.test/api", map[string]string{
			"Baggage":      "sentry-environment=production",
			"Sentry-Trace": "abc-def",
			"User-Agent":   "agent/2",
		}),
	}

	headers, err := ExtractSiteHeaders(trace, SiteTemplate("https://www.site.test"))
	require.NoError(t, err)

	v, _ := headers.Get("authority")
	assert.Equal(t, "www.site.test", v)
	v, _ = headers.Get("origin")
	assert.Equal(t, "https://www.site.test", v)
	v, _ = headers.Get("referer")
	assert.Equal(t, "https://www.site.test/", v)
	v, _ = headers.Get("User-Agent")
	assert.Equal(t, "agent/2", v)
	v, _ = headers.Get("sentry-trace")
	assert.Equal(t, "abc-def", v)
	assert.Equal(t, 16, headers.Len())
}

func TestExtractSiteHeaders_MissingObserved(t *testing.T) {
	trace := models.Trace{request("https://www.site.test/", map[string]string{"user-agent": "agent"})}

	_, err := ExtractSiteHeaders(trace, SiteTemplate("https://www.site.test"))
	require.ErrorIs(t, err, models.ErrMissingHeader)
	assert.Contains(t, err.Error(), "baggage")
}

func TestExtractSiteHeaders_MailTemplateUsesMatchedRequest(t *testing.T) {
	trace := models.Trace{
		request("https://mail.test/", map[string]string{"user-agent": "early", "x-xsrf-token": "stale"}),
		request("https://mail.test/message-list", map[string]string{
			"User-Agent":   "agent/1",
			"X-XSRF-TOKEN": "token",
			"Cookie":       "XSRF-TOKEN=token; session=s",
		}),
		request("https://mail.test/later", map[string]string{"user-agent": "late"}),
	}

	headers, err := ExtractSiteHeaders(trace, MailTemplate("https://mail.test"))
	require.NoError(t, err)
	v, _ := headers.Get("user-agent")
	assert.Equal(t, "agent/1", v)
	v, _ = headers.Get("x-xsrf-token")
	assert.Equal(t, "token", v)
	v, _ = headers.Get("referer")
	assert.Equal(t, "https://mail.test/inbox", v)

	cookies, err := ExtractSiteCookies(trace, MailTrafficMatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"XSRF-TOKEN", "session"}, cookies.Names())
}

func TestExtractSiteHeaders_MailTemplateNoTraffic(t *testing.T) {
	_, err := ExtractSiteHeaders(models.Trace{}, MailTemplate("https://mail.test"))
	assert.ErrorIs(t, err, models.ErrTraceNotFound)
}

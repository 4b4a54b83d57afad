package extractor

import (
	"net/url"
	"strings"
)

const (
	// SiteCookieMatch identifies the sign-in request that carries the backend session cookies
	SiteCookieMatch = "api/auth/signin/email"

	// MailTrafficMatch identifies the inbox polling request of the disposable-email site
	MailTrafficMatch = "message-list"
)

// SiteTemplate returns the header template for the backend site at siteURL
func SiteTemplate(siteURL string) HeaderTemplate {
	origin, host := originOf(siteURL)
	return HeaderTemplate{
		Fields: []HeaderField{
			Fixed("authority", host),
			Fixed("accept", "*/*"),
			Fixed("accept-language", "en-US,en;q=0.9"),
			Observed("baggage"),
			Fixed("content-type", "application/x-www-form-urlencoded"),
			Fixed("dnt", "1"),
			Fixed("origin", origin),
			Fixed("referer", origin+"/"),
			Observed("sec-ch-ua"),
			Fixed("sec-ch-ua-mobile", "?0"),
			Observed("sec-ch-ua-platform"),
			Fixed("sec-fetch-dest", "empty"),
			Fixed("sec-fetch-mode", "cors"),
			Fixed("sec-fetch-site", "same-origin"),
			Observed("sentry-trace"),
			Observed("user-agent"),
		},
	}
}

// MailTemplate returns the header template for the disposable-email site at mailURL
func MailTemplate(mailURL string) HeaderTemplate {
	origin, host := originOf(mailURL)
	return HeaderTemplate{
		Match: MailTrafficMatch,
		Fields: []HeaderField{
			Fixed("authority", host),
			Fixed("accept", "application/json, text/plain, */*"),
			Fixed("accept-language", "en-US,en;q=0.9"),
			Fixed("content-type", "application/json"),
			Fixed("dnt", "1"),
			Fixed("origin", origin),
			Fixed("referer", origin+"/inbox"),
			Fixed("sec-fetch-dest", "empty"),
			Fixed("sec-fetch-mode", "cors"),
			Fixed("sec-fetch-site", "same-origin"),
			Observed("user-agent"),
			Fixed("x-requested-with", "XMLHttpRequest"),
			Observed("x-xsrf-token"),
		},
	}
}

func originOf(raw string) (origin, host string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		trimmed := strings.TrimRight(raw, "/")
		return trimmed, strings.TrimPrefix(strings.TrimPrefix(trimmed, "https://"), "http://")
	}
	return u.Scheme + "://" + u.Host, u.Host
}

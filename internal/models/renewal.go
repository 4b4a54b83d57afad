package models

import "time"

// RenewalRecord is the persisted outcome of one renewal attempt.
// Credential values are never stored, only counts.
type RenewalRecord struct {
	ID          string        `json:"id"`
	Trigger     string        `json:"trigger"` // query, startup, schedule, manual
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	SiteHeaders int           `json:"site_headers"`
	SiteCookies int           `json:"site_cookies"`
	MailHeaders int           `json:"mail_headers"`
	MailCookies int           `json:"mail_cookies"`
	Quota       int           `json:"quota"`
}

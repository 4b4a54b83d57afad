package models

import "time"

// MailMessage is a message fetched from a disposable inbox
type MailMessage struct {
	ID      string
	From    string
	Subject string
	Body    string // HTML when available, plain text otherwise
	Date    time.Time
}

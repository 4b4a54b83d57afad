package mailbox

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/httpclient"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// NewFactory returns a MailboxFactory for the configured provider. The
// disposable provider replays the mail bundle; IMAP ignores it.
func NewFactory(config common.MailboxConfig, logger arbor.ILogger) (interfaces.MailboxFactory, error) {
	poll := common.PollPolicy{
		Interval:    time.Duration(config.PollIntervalSeconds) * time.Second,
		MaxAttempts: config.MaxAttempts,
	}

	switch config.Provider {
	case "", "emailnator":
		httpClient := httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout)
		return func(mail models.Bundle) (interfaces.Mailbox, error) {
			return NewInbox(config.URL, mail, poll, httpClient, logger), nil
		}, nil
	case "imap":
		imapConfig := IMAPConfig{
			Host:     config.IMAP.Host,
			Port:     config.IMAP.Port,
			Username: config.IMAP.Username,
			Password: config.IMAP.Password,
			UseTLS:   config.IMAP.UseTLS,
			Domain:   config.IMAP.Domain,
		}
		return func(mail models.Bundle) (interfaces.Mailbox, error) {
			return NewIMAPInbox(imapConfig, poll, logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", config.Provider)
	}
}

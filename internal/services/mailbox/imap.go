// -----------------------------------------------------------------------
// IMAP inbox - verification mail delivered to a catch-all or plus-addressed
// mailbox the operator controls
// -----------------------------------------------------------------------

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// IMAPConfig holds IMAP server configuration
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Domain   string // catch-all domain; empty uses plus-addressing on Username
}

// IMAPInbox implements interfaces.Mailbox against an IMAP account
type IMAPInbox struct {
	config IMAPConfig
	poll   common.PollPolicy
	logger arbor.ILogger

	mu    sync.Mutex
	alias string
}

var _ interfaces.Mailbox = (*IMAPInbox)(nil)

// NewIMAPInbox creates a new IMAP-backed inbox
func NewIMAPInbox(config IMAPConfig, poll common.PollPolicy, logger arbor.ILogger) *IMAPInbox {
	return &IMAPInbox{config: config, poll: poll, logger: logger}
}

// Address returns a fresh alias routed to the configured account
func (m *IMAPInbox) Address(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alias != "" {
		return m.alias, nil
	}

	alias, err := makeAlias(m.config, uuid.New().String()[:8])
	if err != nil {
		return "", err
	}
	m.alias = alias
	return m.alias, nil
}

func makeAlias(config IMAPConfig, tag string) (string, error) {
	if config.Domain != "" {
		return fmt.Sprintf("plexus-%s@%s", tag, config.Domain), nil
	}
	user, domain, ok := strings.Cut(config.Username, "@")
	if !ok || user == "" || domain == "" {
		return "", errors.New("imap username must be an email address when no domain is configured")
	}
	return fmt.Sprintf("%s+plexus-%s@%s", user, tag, domain), nil
}

// WaitForMessage polls the INBOX for an unseen message to the alias from a
// sender containing from
func (m *IMAPInbox) WaitForMessage(ctx context.Context, from string) (*models.MailMessage, error) {
	alias, err := m.Address(ctx)
	if err != nil {
		return nil, err
	}

	var found *models.MailMessage
	attempts, err := m.poll.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		msg, err := m.fetch(alias, from)
		if err != nil {
			return false, err
		}
		found = msg
		return msg != nil, nil
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return nil, fmt.Errorf("%w: nothing from %q after %d polls", models.ErrMailNotReceived, from, attempts)
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (m *IMAPInbox) connect() (*client.Client, error) {
	if m.config.Host == "" || m.config.Username == "" || m.config.Password == "" {
		return nil, fmt.Errorf("IMAP not configured")
	}

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var c *client.Client
	var err error
	if m.config.UseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(m.config.Username, m.config.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	return c, nil
}

// fetch returns the newest matching unseen message, or nil when none exists
func (m *IMAPInbox) fetch(alias, from string) (*models.MailMessage, error) {
	c, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("To", alias)
	if from != "" {
		criteria.Header.Add("From", from)
	}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search INBOX: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums[len(seqNums)-1])

	messages := make(chan *imap.Message, 1)
	section := &imap.BodySectionName{}
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var found *models.MailMessage
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}

		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		body, err := parseBody(r)
		if err != nil {
			m.logger.Warn().Err(err).Int64("seq", int64(msg.SeqNum)).Msg("Failed to parse message body")
			continue
		}

		sender := ""
		if len(msg.Envelope.From) > 0 {
			sender = msg.Envelope.From[0].Address()
		}
		found = &models.MailMessage{
			ID:      fmt.Sprintf("%d", msg.SeqNum),
			From:    sender,
			Subject: msg.Envelope.Subject,
			Body:    body,
			Date:    msg.Envelope.Date,
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	if found != nil {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to mark verification mail as read")
		}
	}
	return found, nil
}

// parseBody returns the HTML part of a message, or its plain text part when
// there is no HTML
func parseBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var html, text string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(b)
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(b)
		}
	}

	if html != "" {
		return strings.TrimSpace(html), nil
	}
	return strings.TrimSpace(text), nil
}

// -----------------------------------------------------------------------
// Disposable inbox client - replays the captured browser session against
// the disposable-email site's JSON endpoints
// -----------------------------------------------------------------------

package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/httpclient"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// Inbox is a disposable inbox bound to one mail-side bundle
type Inbox struct {
	baseURL string
	bundle  models.Bundle
	poll    common.PollPolicy
	http    *http.Client
	logger  arbor.ILogger

	mu      sync.Mutex
	address string
}

var _ interfaces.Mailbox = (*Inbox)(nil)

// NewInbox creates an inbox client replaying bundle against baseURL
func NewInbox(baseURL string, bundle models.Bundle, poll common.PollPolicy, httpClient *http.Client, logger arbor.ILogger) *Inbox {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout)
	}
	return &Inbox{
		baseURL: strings.TrimRight(baseURL, "/"),
		bundle:  bundle,
		poll:    poll,
		http:    httpClient,
		logger:  logger,
	}
}

type messageSummary struct {
	MessageID string `json:"messageID"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Time      string `json:"time"`
}

func (i *Inbox) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	for name, value := range i.bundle.Headers.Map() {
		req.Header.Set(name, value)
	}
	if i.bundle.Cookies.Len() > 0 {
		req.Header.Set("Cookie", i.bundle.Cookies.Header())
	}

	resp, err := i.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}
	return data, nil
}

// Address generates the inbox address on first use and returns it thereafter
func (i *Inbox) Address(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.address != "" {
		return i.address, nil
	}

	data, err := i.post(ctx, "/generate-email", map[string][]string{"email": {"dotGmail"}})
	if err != nil {
		return "", err
	}

	var resp struct {
		Email []string `json:"email"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode generated address: %w", err)
	}
	if len(resp.Email) == 0 || resp.Email[0] == "" {
		return "", errors.New("mailbox returned no address")
	}

	i.address = resp.Email[0]
	i.logger.Debug().Msg("Disposable inbox address generated")
	return i.address, nil
}

// WaitForMessage polls the inbox until a message from a sender containing
// from arrives, then fetches its body
func (i *Inbox) WaitForMessage(ctx context.Context, from string) (*models.MailMessage, error) {
	address, err := i.Address(ctx)
	if err != nil {
		return nil, err
	}

	var found *messageSummary
	attempts, err := i.poll.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		data, err := i.post(ctx, "/message-list", map[string]string{"email": address})
		if err != nil {
			return false, err
		}

		var list struct {
			MessageData []messageSummary `json:"messageData"`
		}
		if err := json.Unmarshal(data, &list); err != nil {
			return false, fmt.Errorf("failed to decode message list: %w", err)
		}

		for idx := range list.MessageData {
			msg := list.MessageData[idx]
			if strings.Contains(strings.ToLower(msg.From), strings.ToLower(from)) {
				found = &msg
				return true, nil
			}
		}

		i.logger.Trace().
			Int("attempt", attempt).
			Int("messages", len(list.MessageData)).
			Msg("Waiting for verification mail")
		return false, nil
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return nil, fmt.Errorf("%w: nothing from %q after %d polls", models.ErrMailNotReceived, from, attempts)
	}
	if err != nil {
		return nil, err
	}

	body, err := i.post(ctx, "/message-list", map[string]string{"email": address, "messageID": found.MessageID})
	if err != nil {
		return nil, err
	}

	i.logger.Debug().
		Str("from", found.From).
		Str("subject", found.Subject).
		Int("polls", attempts).
		Msg("Verification mail received")

	return &models.MailMessage{
		ID:      found.MessageID,
		From:    found.From,
		Subject: found.Subject,
		Body:    string(body),
		Date:    time.Now(),
	}, nil
}

// -----------------------------------------------------------------------
// Backend session client - replays the captured site bundle over HTTP and
// asks questions over the site's socket channel
// -----------------------------------------------------------------------

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/httpclient"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
	"github.com/ternarybob/plexus/internal/services/mailbox"
)

const (
	signInPath      = "/api/auth/signin/email"
	callbackPath    = "/api/auth/callback/email"
	csrfCookie      = "next-auth.csrf-token"
	socketPath      = "/socket.io/"
	askEvent        = "perplexity_ask"
	defaultLanguage = "en-US"
)

// Config holds backend client configuration
type Config struct {
	URL            string
	RequestTimeout time.Duration
	AnswerTimeout  time.Duration
	MailSender     string // substring of the verification mail's sender; defaults to the site domain
}

// Client is one authenticated session against the backend
type Client struct {
	config    Config
	base      *url.URL
	bundle    models.Bundle
	http      *http.Client
	mailboxes interfaces.MailboxFactory
	logger    arbor.ILogger

	mu     sync.Mutex
	socket *socket
	closed bool
}

var _ interfaces.BackendClient = (*Client)(nil)

// NewClient creates a backend client seeded with the site bundle's cookies
func NewClient(config Config, site models.Bundle, mailboxes interfaces.MailboxFactory, logger arbor.ILogger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.URL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", config.URL)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.AnswerTimeout <= 0 {
		config.AnswerTimeout = 2 * time.Minute
	}
	if config.MailSender == "" {
		config.MailSender = strings.TrimPrefix(base.Hostname(), "www.")
	}

	httpClient, err := httpclient.NewHTTPClientWithCookies(base, site.Cookies, config.RequestTimeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:    config,
		base:      base,
		bundle:    site,
		http:      httpClient,
		mailboxes: mailboxes,
		logger:    logger,
	}, nil
}

// NewFactory returns a BackendFactory producing clients for config
func NewFactory(config Config, mailboxes interfaces.MailboxFactory, logger arbor.ILogger) interfaces.BackendFactory {
	return func(site models.Bundle) (interfaces.BackendClient, error) {
		return NewClient(config, site, mailboxes, logger)
	}
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for name, value := range c.bundle.Headers.Map() {
		if name == "authority" {
			continue
		}
		req.Header.Set(name, value)
	}
	return req, nil
}

// CreateAccount signs up with a fresh address from the mail bundle's inbox
// and follows the emailed sign-in link
func (c *Client) CreateAccount(ctx context.Context, mail models.Bundle) error {
	inbox, err := c.mailboxes(mail)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}

	address, err := inbox.Address(ctx)
	if err != nil {
		return fmt.Errorf("%w: mailbox address: %w", models.ErrBackendUnavailable, err)
	}

	form := url.Values{
		"email":       {address},
		"csrfToken":   {c.csrfToken()},
		"callbackUrl": {c.base.String() + "/"},
		"json":        {"true"},
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.base.String()+signInPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := c.do(req); err != nil {
		return fmt.Errorf("%w: sign-in request: %w", models.ErrBackendUnavailable, err)
	}

	c.logger.Debug().Msg("Sign-in mail requested, waiting for verification link")

	msg, err := inbox.WaitForMessage(ctx, c.config.MailSender)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	link, err := mailbox.ExtractLink(msg.Body, callbackPath)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}

	req, err = c.newRequest(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	if err := c.do(req); err != nil {
		return fmt.Errorf("%w: verification link: %w", models.ErrBackendUnavailable, err)
	}

	c.logger.Info().Msg("Backend account created")
	return nil
}

// csrfToken returns the token part of the next-auth csrf cookie ("token|hash")
func (c *Client) csrfToken() string {
	raw, ok := c.bundle.Cookies.Get(csrfCookie)
	if !ok {
		return ""
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	token, _, _ := strings.Cut(raw, "|")
	return token
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned HTTP %d", req.URL.Path, resp.StatusCode)
	}
	return nil
}

// Search asks one question and waits for the final answer
func (c *Client) Search(ctx context.Context, query string, mode models.Mode) (*models.QueryResult, error) {
	sock, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}

	askCtx, cancel := context.WithTimeout(ctx, c.config.AnswerTimeout)
	defer cancel()

	payload, err := sock.ask(askCtx, askEvent, query, askOptions(mode))
	if err != nil {
		c.dropSocket(sock)
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}

	result, err := parseAnswer(query, mode, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	result.Markdown = renderMarkdown(result.Answer, c.base.String(), c.logger)

	c.logger.Debug().
		Str("mode", string(mode)).
		Int("answer_length", len(result.Answer)).
		Int("sources", len(result.Sources)).
		Msg("Backend answered query")

	return result, nil
}

func askOptions(mode models.Mode) map[string]interface{} {
	return map[string]interface{}{
		"version":                "2.1",
		"source":                 "default",
		"mode":                   string(mode),
		"last_backend_uuid":      nil,
		"read_write_token":       "",
		"conversational_enabled": true,
		"search_focus":           "internet",
		"language":               defaultLanguage,
	}
}

// connect returns the open socket, dialing it on first use
func (c *Client) connect(ctx context.Context) (*socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client closed")
	}
	if c.socket != nil {
		return c.socket, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	header := http.Header{}
	if ua, ok := c.bundle.Headers.Get("user-agent"); ok {
		header.Set("User-Agent", ua)
	}
	if origin, ok := c.bundle.Headers.Get("origin"); ok {
		header.Set("Origin", origin)
	}
	var cookies []string
	for _, ck := range c.http.Jar.Cookies(c.base) {
		cookies = append(cookies, ck.Name+"="+ck.Value)
	}
	if len(cookies) > 0 {
		header.Set("Cookie", strings.Join(cookies, "; "))
	}

	sock, err := dialSocket(dialCtx, socketURL(c.base), header, c.logger)
	if err != nil {
		return nil, err
	}
	c.socket = sock
	return sock, nil
}

func (c *Client) dropSocket(sock *socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == sock {
		_ = sock.close()
		c.socket = nil
	}
}

// Close releases the socket; the client cannot be reused
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.socket == nil {
		return nil
	}
	err := c.socket.close()
	c.socket = nil
	return err
}

func socketURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = socketPath
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String()
}

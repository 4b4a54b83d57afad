// -----------------------------------------------------------------------
// Challenge solver client - capmonster-compatible createTask/getTaskResult API
// -----------------------------------------------------------------------

package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/httpclient"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
	"golang.org/x/time/rate"
)

// Config holds solver client configuration
type Config struct {
	APIKey            string
	BaseURL           string
	Poll              common.PollPolicy
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client implements interfaces.ChallengeSolver
type Client struct {
	apiKey  string
	baseURL string
	poll    common.PollPolicy
	http    *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

var _ interfaces.ChallengeSolver = (*Client)(nil)

// NewClient creates a new solver client
func NewClient(config Config, logger arbor.ILogger) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		poll:    config.Poll,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

// apiResponse is the common envelope of every solver response
type apiResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	Balance          float64         `json:"balance"`
	TaskID           int64           `json:"taskId"`
	Status           string          `json:"status"`
	Solution         json.RawMessage `json:"solution"`
}

func (r *apiResponse) err() error {
	if r.ErrorID == 0 {
		return nil
	}
	if r.ErrorDescription != "" {
		return fmt.Errorf("%s: %s", r.ErrorCode, r.ErrorDescription)
	}
	return errors.New(r.ErrorCode)
}

type turnstileTask struct {
	Type               string `json:"type"`
	CloudflareTaskType string `json:"cloudflareTaskType"`
	WebsiteURL         string `json:"websiteURL"`
	WebsiteKey         string `json:"websiteKey"`
	ProxyType          string `json:"proxyType,omitempty"`
	ProxyAddress       string `json:"proxyAddress,omitempty"`
	ProxyPort          int    `json:"proxyPort,omitempty"`
	ProxyLogin         string `json:"proxyLogin,omitempty"`
	ProxyPassword      string `json:"proxyPassword,omitempty"`
	HTMLPageBase64     string `json:"htmlPageBase64"`
	UserAgent          string `json:"userAgent"`
}

// post sends one JSON request; transport and decoding failures are returned raw
func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload["clientKey"] = c.apiKey
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return &out, nil
}

// CheckBalance returns the remaining prepaid balance
func (c *Client) CheckBalance(ctx context.Context) (float64, error) {
	resp, err := c.post(ctx, "/getBalance", map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	if err := resp.err(); err != nil {
		return 0, fmt.Errorf("balance check failed: %w", err)
	}

	c.logger.Debug().Str("balance", fmt.Sprintf("%.4f", resp.Balance)).Msg("Solver balance checked")
	return resp.Balance, nil
}

// SubmitChallenge creates a Turnstile cf_clearance task and returns its id
func (c *Client) SubmitChallenge(ctx context.Context, task models.ChallengeTask) (int64, error) {
	payload := turnstileTask{
		Type:               "TurnstileTask",
		CloudflareTaskType: "cf_clearance",
		WebsiteURL:         task.WebsiteURL,
		WebsiteKey:         task.WebsiteKey,
		HTMLPageBase64:     task.PageHTMLBase64,
		UserAgent:          task.UserAgent,
	}
	if task.Proxy.Enabled() {
		payload.ProxyType = "http"
		payload.ProxyAddress = task.Proxy.Host
		payload.ProxyPort = task.Proxy.Port
		payload.ProxyLogin = task.Proxy.Login
		payload.ProxyPassword = task.Proxy.Password
	}

	resp, err := c.post(ctx, "/createTask", map[string]interface{}{"task": payload})
	if err != nil {
		return 0, err
	}
	if err := resp.err(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrChallengeRejected, err)
	}

	c.logger.Info().
		Int64("task_id", resp.TaskID).
		Str("website", task.WebsiteURL).
		Bool("proxy", task.Proxy.Enabled()).
		Msg("Challenge task submitted")

	return resp.TaskID, nil
}

// AwaitResult polls the task until it is ready and returns the clearance token.
// It polls at most Poll.MaxAttempts times.
func (c *Client) AwaitResult(ctx context.Context, taskID int64) (string, error) {
	var token string
	var last string

	attempts, err := c.poll.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		resp, err := c.post(ctx, "/getTaskResult", map[string]interface{}{"taskId": taskID})
		if err != nil {
			return false, err
		}
		if err := resp.err(); err != nil {
			return false, fmt.Errorf("%w: %w", models.ErrChallengeRejected, err)
		}

		last = resp.Status
		switch resp.Status {
		case "ready":
			var solution struct {
				CFClearance string `json:"cf_clearance"`
				Token       string `json:"token"`
			}
			if err := json.Unmarshal(resp.Solution, &solution); err != nil {
				return false, fmt.Errorf("%w: undecodable solution: %w", models.ErrChallengeRejected, err)
			}
			token = solution.CFClearance
			if token == "" {
				token = solution.Token
			}
			if token == "" {
				return false, fmt.Errorf("%w: empty solution", models.ErrChallengeRejected)
			}
			return true, nil
		case "":
			return false, fmt.Errorf("%w: response without status", models.ErrChallengeRejected)
		default:
			c.logger.Trace().
				Int64("task_id", taskID).
				Int("attempt", attempt).
				Str("status", resp.Status).
				Msg("Challenge not ready")
			return false, nil
		}
	})

	if errors.Is(err, common.ErrPollExhausted) {
		return "", fmt.Errorf("%w: task %d still %q after %d polls", models.ErrChallengeTimeout, taskID, last, attempts)
	}
	if err != nil {
		return "", err
	}

	c.logger.Info().
		Int64("task_id", taskID).
		Int("polls", attempts).
		Msg("Challenge solved")

	return token, nil
}

package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"autologin/internal/errclass"
	"autologin/internal/logging"
)

// minPollInterval is the tightest loop the client will ever run against the
// service, regardless of configuration.
const minPollInterval = time.Second

// PollResult is one poll response from the service.
type PollResult struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether the task reached a final state.
func (r PollResult) Terminal() bool {
	return r.Status == string(StateSolved) || r.Status == string(StateFailed)
}

// Client talks to the solving service from the orchestrator side.
type Client struct {
	baseURL      string
	httpc        *http.Client
	pollInterval time.Duration
	solveTimeout time.Duration
	logger       logging.Logger
}

// NewClient creates a client. pollInterval is clamped to the floor so the
// orchestrator can never busy-loop the service.
func NewClient(baseURL string, pollInterval, solveTimeout time.Duration, logger logging.Logger) *Client {
	if pollInterval < minPollInterval {
		pollInterval = minPollInterval
	}
	if solveTimeout <= 0 {
		solveTimeout = 2 * time.Minute
	}
	return &Client{
		baseURL:      baseURL,
		httpc:        &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		solveTimeout: solveTimeout,
		logger:       logging.OrNop(logger),
	}
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Submit registers a challenge and returns its task id.
func (c *Client) Submit(ctx context.Context, target, siteKey, proxyAddr string) (string, error) {
	query := url.Values{}
	query.Set("url", target)
	query.Set("sitekey", siteKey)
	if proxyAddr != "" {
		query.Set("proxy", proxyAddr)
	}

	var resp submitResponse
	status, err := c.getJSON(ctx, "/turnstile?"+query.Encode(), &resp)
	if err != nil {
		return "", errclass.Wrap(errclass.KindTransientNetwork, err)
	}
	if status == http.StatusTooManyRequests {
		// Capacity pressure clears on its own; classify so the account
		// requeues without burning a capped attempt kind.
		return "", errclass.New(errclass.KindTransientNetwork, "submit rejected: service at capacity: %s", resp.Error)
	}
	if status != http.StatusAccepted {
		return "", errclass.New(errclass.KindChallengeTimeout, "submit rejected: status %d: %s", status, resp.Error)
	}
	if resp.TaskID == "" {
		return "", errclass.New(errclass.KindChallengeTimeout, "submit returned no task id")
	}
	return resp.TaskID, nil
}

// Poll fetches the task's current state. It is safe to call repeatedly: a
// terminal task keeps returning the same outcome until the service's
// retention window expires.
func (c *Client) Poll(ctx context.Context, taskID string) (PollResult, error) {
	var result PollResult
	status, err := c.getJSON(ctx, "/result?id="+url.QueryEscape(taskID), &result)
	if err != nil {
		return PollResult{}, errclass.Wrap(errclass.KindTransientNetwork, err)
	}
	if status == http.StatusNotFound {
		return PollResult{}, errclass.New(errclass.KindChallengeTimeout, "task %s expired or unknown", taskID)
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return PollResult{}, errclass.New(errclass.KindChallengeTimeout, "poll failed: status %d", status)
	}
	return result, nil
}

// Solve submits the challenge and polls until a token arrives, the service
// reports failure, or the solve timeout elapses.
func (c *Client) Solve(ctx context.Context, target, siteKey, proxyAddr string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.solveTimeout)
	defer cancel()

	taskID, err := c.Submit(ctx, target, siteKey, proxyAddr)
	if err != nil {
		return "", err
	}
	c.logger.Debug("challenge submitted, task=%s", taskID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", errclass.New(errclass.KindChallengeTimeout, "no token after %s (task %s)", c.solveTimeout, taskID)
		case <-ticker.C:
		}

		result, err := c.Poll(ctx, taskID)
		if err != nil {
			// Poll transport hiccups are not terminal; the deadline
			// bounds the overall wait.
			c.logger.Debug("poll task %s: %v", taskID, err)
			continue
		}
		switch result.Status {
		case string(StateSolved):
			return result.Token, nil
		case string(StateFailed):
			return "", errclass.New(errclass.KindChallengeTimeout, "solver failed: %s", result.Reason)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

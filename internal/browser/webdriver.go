package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// elementKey is the W3C WebDriver element identifier key.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// waitPollInterval is how often WaitFor re-checks its condition.
const waitPollInterval = 250 * time.Millisecond

// Remote is a minimal W3C WebDriver client. It speaks to any conforming
// remote end (chromedriver, geckodriver, a Selenium hub) and implements the
// Driver interface over one session.
type Remote struct {
	baseURL   string
	sessionID string
	httpc     *http.Client
}

// NewRemoteFactory returns a Factory that opens WebDriver sessions against
// the remote end at baseURL.
func NewRemoteFactory(baseURL string) Factory {
	return func(ctx context.Context, opts Options) (Driver, error) {
		return NewRemote(ctx, baseURL, opts)
	}
}

// NewRemote starts a session, applying the proxy binding from opts as a
// session capability.
func NewRemote(ctx context.Context, baseURL string, opts Options) (*Remote, error) {
	r := &Remote{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}

	always := map[string]any{}
	switch {
	case opts.SocksAddr != "":
		always["proxy"] = map[string]any{
			"proxyType":    "manual",
			"socksProxy":   opts.SocksAddr,
			"socksVersion": 5,
		}
	case opts.ProxyAddr != "":
		always["proxy"] = map[string]any{
			"proxyType": "manual",
			"httpProxy": opts.ProxyAddr,
			"sslProxy":  opts.ProxyAddr,
		}
	}

	body := map[string]any{"capabilities": map[string]any{"alwaysMatch": always}}
	var resp struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := r.do(ctx, http.MethodPost, "/session", body, &resp); err != nil {
		return nil, fmt.Errorf("new webdriver session: %w", err)
	}
	if resp.Value.SessionID == "" {
		return nil, fmt.Errorf("webdriver returned empty session id")
	}
	r.sessionID = resp.Value.SessionID
	return r, nil
}

func (r *Remote) Open(ctx context.Context, pageURL string) error {
	path := "/session/" + r.sessionID + "/url"
	if err := r.do(ctx, http.MethodPost, path, map[string]any{"url": pageURL}, nil); err != nil {
		return fmt.Errorf("navigate to %s: %w", pageURL, err)
	}
	return nil
}

func (r *Remote) Fill(ctx context.Context, selector, value string) error {
	id, err := r.findElement(ctx, selector)
	if err != nil {
		return err
	}
	path := "/session/" + r.sessionID + "/element/" + id + "/value"
	if err := r.do(ctx, http.MethodPost, path, map[string]any{"text": value}, nil); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (r *Remote) Click(ctx context.Context, selector string) error {
	id, err := r.findElement(ctx, selector)
	if err != nil {
		return err
	}
	path := "/session/" + r.sessionID + "/element/" + id + "/click"
	if err := r.do(ctx, http.MethodPost, path, map[string]any{}, nil); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (r *Remote) Value(ctx context.Context, selector string) (string, error) {
	id, err := r.findElement(ctx, selector)
	if err != nil {
		return "", err
	}
	path := "/session/" + r.sessionID + "/element/" + id + "/property/value"
	var resp struct {
		Value string `json:"value"`
	}
	if err := r.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("read value of %s: %w", selector, err)
	}
	return resp.Value, nil
}

func (r *Remote) ReadCookie(ctx context.Context, name string) (Cookie, bool, error) {
	path := "/session/" + r.sessionID + "/cookie/" + url.PathEscape(name)
	var resp struct {
		Value Cookie `json:"value"`
	}
	err := r.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		var wdErr *wireError
		if errors.As(err, &wdErr) && wdErr.status == http.StatusNotFound {
			return Cookie{}, false, nil
		}
		return Cookie{}, false, fmt.Errorf("read cookie %s: %w", name, err)
	}
	return resp.Value, true, nil
}

// WaitFor polls for the condition until it holds, the timeout elapses, or
// ctx is cancelled.
func (r *Remote) WaitFor(ctx context.Context, cond Condition, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.check(ctx, cond)
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %+v: %w", cond, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Remote) check(ctx context.Context, cond Condition) (bool, error) {
	switch {
	case cond.Cookie != "":
		_, found, err := r.ReadCookie(ctx, cond.Cookie)
		return found, err
	case cond.Selector != "":
		_, err := r.findElement(ctx, cond.Selector)
		return err == nil, nil
	default:
		return false, fmt.Errorf("empty wait condition")
	}
}

func (r *Remote) Close(ctx context.Context) error {
	return r.do(ctx, http.MethodDelete, "/session/"+r.sessionID, nil, nil)
}

func (r *Remote) findElement(ctx context.Context, selector string) (string, error) {
	path := "/session/" + r.sessionID + "/element"
	body := map[string]any{"using": "css selector", "value": selector}
	var resp struct {
		Value map[string]string `json:"value"`
	}
	if err := r.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", fmt.Errorf("find %s: %w", selector, err)
	}
	id := resp.Value[elementKey]
	if id == "" {
		return "", fmt.Errorf("find %s: element id missing from response", selector)
	}
	return id, nil
}

// wireError carries the remote end's HTTP status for callers that need to
// distinguish not-found from transport failure.
type wireError struct {
	status  int
	message string
}

func (e *wireError) Error() string {
	return fmt.Sprintf("webdriver status %d: %s", e.status, e.message)
}

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var wire struct {
			Value struct {
				Message string `json:"message"`
			} `json:"value"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return &wireError{status: resp.StatusCode, message: wire.Value.Message}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode webdriver response: %w", err)
		}
	}
	return nil
}

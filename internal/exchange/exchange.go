// Package exchange turns a solved challenge token into the login URL the
// browser flow starts from.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"autologin/internal/errclass"
	"autologin/internal/logging"
)

// Client performs the token-for-URL exchange. The target redirects a valid
// token through to the identity provider; the final URL after redirects is
// the login URL.
type Client struct {
	baseURL string
	timeout time.Duration
	logger  logging.Logger
}

// New creates an exchange client against baseURL.
func New(baseURL string, logger logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 15 * time.Second,
		logger:  logging.OrNop(logger),
	}
}

// LoginURL exchanges token for the provider login URL, routing the request
// through proxyAddr when non-empty. Failures are classified exchange-error
// except transport-level proxy faults, which stay transient-network.
func (c *Client) LoginURL(ctx context.Context, token, proxyAddr string) (string, error) {
	httpc := &http.Client{Timeout: c.timeout}
	if proxyAddr != "" {
		proxyURL, err := url.Parse("http://" + proxyAddr)
		if err != nil {
			return "", errclass.New(errclass.KindTransientNetwork, "bad proxy address %q: %v", proxyAddr, err)
		}
		httpc.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	endpoint := c.baseURL + "/auth/google?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errclass.Wrap(errclass.KindExchangeError, err)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		// Proxy and DNS faults are retryable on a later run with a
		// different egress; don't burn the exchange-error attempt cap.
		return "", errclass.From(fmt.Errorf("exchange request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := c.errorPageDetail(resp)
		return "", errclass.New(errclass.KindExchangeError, "status %d%s", resp.StatusCode, detail)
	}

	final := resp.Request.URL.String()
	if final == "" {
		return "", errclass.New(errclass.KindExchangeError, "exchange produced no redirect target")
	}
	c.logger.Debug("token exchanged, login host=%s", resp.Request.URL.Host)
	return final, nil
}

// errorPageDetail pulls a human-readable message out of an HTML error
// interstitial, when the target serves one instead of a bare status.
func (c *Client) errorPageDetail(resp *http.Response) string {
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}
	for _, sel := range []string{"h1", "title"} {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return ": " + text
		}
	}
	return ""
}

// Package browser defines the browser-driving capability the orchestrator
// and the solving service consume, plus a remote WebDriver-backed
// implementation. The core never touches a browser engine directly; it only
// sees this interface.
package browser

import (
	"context"
	"time"
)

// Cookie is a browser cookie read back from the session.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// Condition is what WaitFor polls for. Exactly one field should be set.
type Condition struct {
	// Selector waits until an element matching the CSS selector exists.
	Selector string
	// Cookie waits until a cookie with this name is present.
	Cookie string
}

// Driver drives one browser session. All calls honor ctx cancellation;
// WaitFor additionally bounds its own polling with the given timeout.
type Driver interface {
	Open(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Value(ctx context.Context, selector string) (string, error)
	ReadCookie(ctx context.Context, name string) (Cookie, bool, error)
	WaitFor(ctx context.Context, cond Condition, timeout time.Duration) error
	Close(ctx context.Context) error
}

// Options configure a new browser session.
type Options struct {
	// ProxyAddr routes all session traffic through host:port when set.
	ProxyAddr string
	// SocksAddr routes through a SOCKS5 endpoint (tunnel mode) when set;
	// takes precedence over ProxyAddr.
	SocksAddr string
}

// Factory opens a fresh browser session. Each login attempt and each solve
// attempt gets its own session so proxy bindings never leak across tasks.
type Factory func(ctx context.Context, opts Options) (Driver, error)

package solver

import (
	"context"
	"fmt"
	"time"

	"autologin/internal/browser"
	"autologin/internal/logging"
)

const (
	// tokenField is where the challenge widget deposits the solved token.
	tokenField = `[name="cf-turnstile-response"]`
	// widgetSelector is the interactive challenge widget.
	widgetSelector = `.cf-turnstile`
	// checkInterval paces the click-and-read loop.
	checkInterval = 400 * time.Millisecond
)

// BrowserEngine solves interaction challenges by driving a real browser
// session: open the target page, nudge the widget until the hidden token
// field fills in, and return the token. Each solve gets a fresh session
// bound to the task's proxy.
type BrowserEngine struct {
	Factory browser.Factory
	Logger  logging.Logger
}

// Solve drives one challenge to completion or until ctx expires.
func (e *BrowserEngine) Solve(ctx context.Context, ch Challenge) (string, error) {
	logger := logging.OrNop(e.Logger)

	driver, err := e.Factory(ctx, browser.Options{ProxyAddr: ch.Proxy})
	if err != nil {
		return "", fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := driver.Close(closeCtx); err != nil {
			logger.Warn("close browser session: %v", err)
		}
	}()

	if err := driver.Open(ctx, ch.Target); err != nil {
		return "", fmt.Errorf("open challenge page: %w", err)
	}
	if err := driver.WaitFor(ctx, browser.Condition{Selector: widgetSelector}, 30*time.Second); err != nil {
		return "", fmt.Errorf("challenge widget never appeared: %w", err)
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		token, err := driver.Value(ctx, tokenField)
		if err == nil && token != "" {
			return token, nil
		}
		if err == nil {
			// Widget present but unsolved; a click advances the
			// interaction check.
			if clickErr := driver.Click(ctx, widgetSelector); clickErr != nil {
				logger.Debug("widget click: %v", clickErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("challenge unsolved: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

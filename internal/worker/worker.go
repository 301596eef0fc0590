// Package worker drives one account through the full sign-in flow: solve
// the challenge, exchange the token for a login URL, submit credentials in
// a browser session, and extract the session artifact. Every run ends in
// exactly one ledger write.
package worker

import (
	"context"
	"math/rand"
	"time"

	"autologin/internal/account"
	"autologin/internal/browser"
	"autologin/internal/errclass"
	"autologin/internal/ledger"
	"autologin/internal/logging"
)

// State names the per-account state machine positions.
type State string

const (
	StateNeedChallenge         State = "need-challenge"
	StateHaveToken             State = "have-token"
	StateLoginURLObtained      State = "login-url-obtained"
	StateCredentialsSubmitted  State = "credentials-submitted"
	StateVerificationRequired  State = "verification-required"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

// TokenSource produces a solved challenge token. The solver client
// implements it; tests script it.
type TokenSource interface {
	Solve(ctx context.Context, target, siteKey, proxyAddr string) (string, error)
}

// Exchanger turns a token into the provider login URL.
type Exchanger interface {
	LoginURL(ctx context.Context, token, proxyAddr string) (string, error)
}

// Selectors locates the login form pieces. They are site plumbing, not
// logic, so they live in configuration.
type Selectors struct {
	IdentifierField      string
	IdentifierNext       string
	SecretField          string
	SecretNext           string
	VerificationMarker   string
	BadCredentialsMarker string
}

// DefaultSelectors matches the provider's current login form.
func DefaultSelectors() Selectors {
	return Selectors{
		IdentifierField:      `input[type="email"]`,
		IdentifierNext:       `#identifierNext`,
		SecretField:          `input[type="password"]`,
		SecretNext:           `#passwordNext`,
		VerificationMarker:   `iframe[src*="challenge"]`,
		BadCredentialsMarker: `.password-error`,
	}
}

// Config tunes one session worker.
type Config struct {
	// Unattended turns VerificationRequired into an immediate retryable
	// failure instead of a bounded wait for a human.
	Unattended bool

	TargetURL     string
	SiteKey       string
	SessionCookie string

	// ElementWait bounds each wait for a form element.
	ElementWait time.Duration
	// CookieWait bounds the initial wait for the session cookie after
	// credentials go in.
	CookieWait time.Duration
	// VerificationWait bounds the attended wait for a human to clear the
	// verification step.
	VerificationWait time.Duration

	// StepPauseMin/Max add a randomized pause between form steps so the
	// flow doesn't emit a fixed-interval signature. Zero disables.
	StepPauseMin time.Duration
	StepPauseMax time.Duration

	Selectors Selectors
}

func (c *Config) defaults() {
	if c.ElementWait <= 0 {
		c.ElementWait = 20 * time.Second
	}
	if c.CookieWait <= 0 {
		c.CookieWait = 30 * time.Second
	}
	if c.VerificationWait <= 0 {
		c.VerificationWait = 3 * time.Minute
	}
	if c.SessionCookie == "" {
		c.SessionCookie = "j"
	}
	if c.Selectors == (Selectors{}) {
		c.Selectors = DefaultSelectors()
	}
}

// Attempt is one unit of work handed down by the run controller.
type Attempt struct {
	Account account.Account
	// ProxyAddr is the egress used for challenge solving and the token
	// exchange.
	ProxyAddr string
	// SocksAddr routes the browser session through the tunnel when set.
	SocksAddr string
}

// Worker runs login attempts. Safe for use by multiple goroutines as long
// as no two run the same account concurrently, which the run controller
// guarantees by consuming each queue entry once.
type Worker struct {
	cfg      Config
	tokens   TokenSource
	exchange Exchanger
	sessions browser.Factory
	store    *ledger.Store
	logger   logging.Logger
}

// New creates a session worker.
func New(cfg Config, tokens TokenSource, exchange Exchanger, sessions browser.Factory, store *ledger.Store, logger logging.Logger) *Worker {
	cfg.defaults()
	return &Worker{
		cfg:      cfg,
		tokens:   tokens,
		exchange: exchange,
		sessions: sessions,
		store:    store,
		logger:   logging.OrNop(logger),
	}
}

// Run drives one account to a terminal state and records the outcome. The
// returned record is what was written to the ledger; err is non-nil only
// when the ledger write itself failed.
func (w *Worker) Run(ctx context.Context, att Attempt) (rec ledger.Record, err error) {
	prev := w.store.Get(att.Account.ID)
	attempts := prev.Attempts + 1

	var failure *errclass.Failure
	var artifact *ledger.Artifact

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("[%s] worker panic: %v", att.Account.ID, r)
				failure = errclass.New(errclass.KindInternalError, "panic: %v", r)
			}
		}()
		artifact, failure = w.attempt(ctx, att)
	}()

	if failure != nil {
		rec = ledger.Record{Status: ledger.StatusError, Attempts: attempts, LastError: failure}
		w.logger.Warn("[%s] attempt %d failed: %s", att.Account.ID, attempts, failure.Error())
	} else {
		rec = ledger.Record{Status: ledger.StatusOK, Attempts: attempts, Result: artifact}
		w.logger.Info("[%s] attempt %d succeeded", att.Account.ID, attempts)
	}

	// The single terminal ledger write. Even a kill immediately after
	// this leaves the ledger reflecting the completed attempt.
	if putErr := w.store.Put(att.Account.ID, rec); putErr != nil {
		return rec, putErr
	}
	return rec, nil
}

// attempt walks the state machine. A nil failure means success with a
// non-nil artifact.
func (w *Worker) attempt(ctx context.Context, att Attempt) (*ledger.Artifact, *errclass.Failure) {
	id := att.Account.ID
	state := StateNeedChallenge
	w.logger.Debug("[%s] %s", id, state)

	token, err := w.tokens.Solve(ctx, w.cfg.TargetURL, w.cfg.SiteKey, att.ProxyAddr)
	if err != nil {
		return nil, errclass.From(err)
	}
	state = StateHaveToken
	w.logger.Debug("[%s] %s", id, state)
	w.pause(ctx)

	loginURL, err := w.exchange.LoginURL(ctx, token, att.ProxyAddr)
	if err != nil {
		return nil, errclass.From(err)
	}
	state = StateLoginURLObtained
	w.logger.Debug("[%s] %s", id, state)

	driver, err := w.sessions(ctx, browser.Options{ProxyAddr: att.ProxyAddr, SocksAddr: att.SocksAddr})
	if err != nil {
		return nil, errclass.Wrap(errclass.KindFlowError, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := driver.Close(closeCtx); closeErr != nil {
			w.logger.Warn("[%s] close browser: %v", id, closeErr)
		}
	}()

	if failure := w.submitCredentials(ctx, driver, loginURL, att.Account); failure != nil {
		return nil, failure
	}
	state = StateCredentialsSubmitted
	w.logger.Debug("[%s] %s", id, state)

	artifact, failure := w.awaitArtifact(ctx, driver, id)
	if failure != nil {
		return nil, failure
	}
	w.logger.Debug("[%s] %s", id, StateDone)
	return artifact, nil
}

// submitCredentials drives the two-step identifier/secret form.
func (w *Worker) submitCredentials(ctx context.Context, driver browser.Driver, loginURL string, acct account.Account) *errclass.Failure {
	sel := w.cfg.Selectors

	if err := driver.Open(ctx, loginURL); err != nil {
		return errclass.Wrap(errclass.KindFlowError, err)
	}

	if err := driver.WaitFor(ctx, browser.Condition{Selector: sel.IdentifierField}, w.cfg.ElementWait); err != nil {
		return w.stepFailure(ctx, driver, "identifier field", err)
	}
	if err := driver.Fill(ctx, sel.IdentifierField, acct.ID); err != nil {
		return errclass.Wrap(errclass.KindFlowError, err)
	}
	w.pause(ctx)
	if err := driver.Click(ctx, sel.IdentifierNext); err != nil {
		return errclass.Wrap(errclass.KindFlowError, err)
	}

	if err := driver.WaitFor(ctx, browser.Condition{Selector: sel.SecretField}, w.cfg.ElementWait); err != nil {
		return w.stepFailure(ctx, driver, "secret field", err)
	}
	if err := driver.Fill(ctx, sel.SecretField, acct.Secret); err != nil {
		return errclass.Wrap(errclass.KindFlowError, err)
	}
	w.pause(ctx)
	if err := driver.Click(ctx, sel.SecretNext); err != nil {
		return errclass.Wrap(errclass.KindFlowError, err)
	}
	return nil
}

// stepFailure classifies a stalled form step. A visible verification
// interstitial means the provider wants a human, anything else is a flow
// fault.
func (w *Worker) stepFailure(ctx context.Context, driver browser.Driver, step string, cause error) *errclass.Failure {
	if present, _ := w.markerPresent(ctx, driver, w.cfg.Selectors.VerificationMarker); present {
		return errclass.New(errclass.KindVerificationRequired, "verification interstitial before %s", step)
	}
	return errclass.New(errclass.KindFlowError, "%s never appeared: %v", step, cause)
}

// awaitArtifact waits for the session cookie, handling the verification
// wait state.
func (w *Worker) awaitArtifact(ctx context.Context, driver browser.Driver, id string) (*ledger.Artifact, *errclass.Failure) {
	cookieCond := browser.Condition{Cookie: w.cfg.SessionCookie}

	if err := driver.WaitFor(ctx, cookieCond, w.cfg.CookieWait); err == nil {
		return w.extract(ctx, driver)
	}

	// No cookie in the normal window. Distinguish bad credentials from a
	// pending human-verification step.
	if present, _ := w.markerPresent(ctx, driver, w.cfg.Selectors.BadCredentialsMarker); present {
		return nil, errclass.New(errclass.KindInvalidCredentials, "credentials rejected")
	}

	w.logger.Info("[%s] %s", id, StateVerificationRequired)
	if w.cfg.Unattended {
		return nil, errclass.New(errclass.KindVerificationRequired, "secondary verification demanded in unattended run")
	}

	// Attended: a human may clear the verification step. The wait is
	// bounded so the run cannot hang forever even with an operator present.
	if err := driver.WaitFor(ctx, cookieCond, w.cfg.VerificationWait); err != nil {
		return nil, errclass.New(errclass.KindVerificationRequired, "verification unresolved after %s", w.cfg.VerificationWait)
	}
	return w.extract(ctx, driver)
}

func (w *Worker) extract(ctx context.Context, driver browser.Driver) (*ledger.Artifact, *errclass.Failure) {
	cookie, found, err := driver.ReadCookie(ctx, w.cfg.SessionCookie)
	if err != nil {
		return nil, errclass.Wrap(errclass.KindFlowError, err)
	}
	if !found || cookie.Value == "" {
		return nil, errclass.New(errclass.KindFlowError, "session cookie %q vanished before extraction", w.cfg.SessionCookie)
	}
	return &ledger.Artifact{Domain: cookie.Domain, Name: cookie.Name, Value: cookie.Value}, nil
}

func (w *Worker) markerPresent(ctx context.Context, driver browser.Driver, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := driver.WaitFor(checkCtx, browser.Condition{Selector: selector}, 2*time.Second)
	return err == nil, err
}

// pause sleeps a randomized interval between flow steps.
func (w *Worker) pause(ctx context.Context) {
	if w.cfg.StepPauseMax <= 0 {
		return
	}
	span := w.cfg.StepPauseMax - w.cfg.StepPauseMin
	d := w.cfg.StepPauseMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

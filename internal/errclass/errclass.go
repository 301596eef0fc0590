package errclass

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a failed sign-in attempt for retry scheduling.
//
// The ledger records the kind verbatim; the work selector uses it to decide
// whether an account re-enters the queue on the next run.
type Kind string

const (
	// KindTransientNetwork covers proxy and tunnel failures.
	KindTransientNetwork Kind = "transient-network"
	// KindChallengeTimeout means the solving service never produced a token.
	KindChallengeTimeout Kind = "challenge-timeout"
	// KindVerificationRequired means the site demanded secondary human
	// verification and the run could not resolve it.
	KindVerificationRequired Kind = "verification-required"
	// KindExchangeError means the token-to-login-URL exchange failed.
	KindExchangeError Kind = "exchange-error"
	// KindFlowError covers navigation and form-driving failures.
	KindFlowError Kind = "flow-error"
	// KindInvalidCredentials is never retried automatically.
	KindInvalidCredentials Kind = "invalid-credentials"
	// KindInternalError is a local crash or malformed page.
	KindInternalError Kind = "internal-error"
)

// Failure is a classified attempt failure. It travels from the session
// worker into the ledger's last_error field.
type Failure struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Detail
}

// New creates a classified failure with a formatted detail message.
func New(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err without losing its message.
func Wrap(kind Kind, err error) *Failure {
	if err == nil {
		return &Failure{Kind: kind}
	}
	return &Failure{Kind: kind, Detail: err.Error()}
}

// From extracts the classified failure from err, classifying unrecognized
// errors as internal by default.
func From(err error) *Failure {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	if isNetworkError(err) {
		return Wrap(KindTransientNetwork, err)
	}
	return Wrap(KindInternalError, err)
}

// Retryable reports whether an account that failed with f should re-enter
// the work queue, given how many attempts it has already consumed.
//
// invalid-credentials is permanently fatal. exchange-error, flow-error and
// internal-error are retried until the configured attempt cap, then treated
// as fatal. Everything else is always retried on a later run.
func Retryable(f *Failure, attempts, maxAttempts int) bool {
	if f == nil {
		return true
	}
	switch f.Kind {
	case KindInvalidCredentials:
		return false
	case KindExchangeError, KindFlowError, KindInternalError:
		return maxAttempts <= 0 || attempts < maxAttempts
	default:
		return true
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"proxy",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

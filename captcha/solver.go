package captcha

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/CbIPOKGIT/claimer/proxy"
)

// Solver is one captcha solving provider.
//
// Solve blocks until the provider returns a token, reports an error or ctx is done.
// It must not mutate page state beyond what the provider itself needs.
type Solver interface {
	// Provider name for logs and failure reasons
	Name() string

	// Solve the challenge. Proxy is optional (zero value means direct).
	Solve(ctx context.Context, challenge Challenge, proxy proxy.Proxy) (string, error)
}

// Result of a successful chain run.
type Result struct {
	Token    string
	Provider string
}

var (
	// ErrNoProviders means no provider could be built from the configured credentials.
	ErrNoProviders = errors.New("no captcha provider configured")

	// ErrUnsupported is returned by providers that cannot handle a challenge widget.
	ErrUnsupported = errors.New("challenge type not supported by provider")

	errNotReady = errors.New("task not ready")
)

// SolveError is a single provider failure with a human readable reason.
type SolveError struct {
	Provider string
	Reason   string

	// Retrying with this provider will not help: billing or key problems
	Fatal bool

	Err error
}

func (e *SolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

func failure(provider, reason string, err error) *SolveError {
	return &SolveError{Provider: provider, Reason: reason, Err: err}
}

// Error codes of the createTask APIs that no retry can fix.
var fatalCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_WRONG_GOOGLEKEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
	"ERROR_KEY_DENIED_ACCESS",
}

func isFatalCode(code string) bool {
	return slices.Contains(fatalCodes, code)
}

package claim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	DEFAULT_STORAGE_KEY = "token"

	storeScript = `(key, value) => {
	window.localStorage.setItem(key, value);
	return window.localStorage.getItem(key) === value ? "1" : "0";
}`
)

var ErrEmptyToken = errors.New("auth token is empty")

// Session is the authenticated browsing session the engine owns for the run.
type Session struct {
	AuthToken string
	Proxy     proxy.Proxy
}

// AuthInjectionError means the credential could not be written into the browser.
type AuthInjectionError struct {
	RootURL string
	Err     error
}

func (e *AuthInjectionError) Error() string {
	return fmt.Sprintf("inject credential at %s: %v", e.RootURL, e.Err)
}

func (e *AuthInjectionError) Unwrap() error {
	return e.Err
}

// Authenticator writes the auth token into origin scoped local storage.
type Authenticator struct {
	page       browser.Page
	storageKey string
	logger     *zap.Logger
}

func NewAuthenticator(page browser.Page, storageKey string, logger *zap.Logger) *Authenticator {
	if storageKey == "" {
		storageKey = DEFAULT_STORAGE_KEY
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{page: page, storageKey: storageKey, logger: logger}
}

// Authenticate opens the site root first: storage is bound to the origin,
// so the write must happen there and not on the workflow page.
func (a *Authenticator) Authenticate(ctx context.Context, session Session, rootURL string) error {
	if session.AuthToken == "" {
		return &AuthInjectionError{RootURL: rootURL, Err: ErrEmptyToken}
	}

	status, err := a.page.Navigate(ctx, rootURL, browser.WaitDOMContentLoaded)
	if err != nil {
		return &AuthInjectionError{RootURL: rootURL, Err: err}
	}
	a.logger.Debug("Root page opened", zap.Int("status", status))

	stored, err := a.page.Evaluate(ctx, storeScript, a.storageKey, session.AuthToken)
	if err != nil {
		return &AuthInjectionError{RootURL: rootURL, Err: err}
	}
	if stored != "1" {
		return &AuthInjectionError{RootURL: rootURL, Err: errors.New("credential was not persisted")}
	}

	a.logger.Info("Credential injected", zap.String("storage_key", a.storageKey))
	return nil
}

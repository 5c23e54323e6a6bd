package captcha

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	HCAPTCHA_FRAME_SELECTOR    = "iframe[src*='hcaptcha.com']"
	HCAPTCHA_CHECKBOX_SELECTOR = "#checkbox"

	DEFAULT_CHECKBOX_SETTLE = 5 * time.Second
)

const readResponseScript = `() => {
	const field = document.querySelector("[name='h-captcha-response'], [name='g-recaptcha-response']");
	return field ? field.value : "";
}`

// Checkbox ticks the widget checkbox inside its frame and hopes the site
// grants a token without a puzzle. Works only for low risk sessions.
type Checkbox struct {
	page    browser.Page
	settle  time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

func NewCheckbox(page browser.Page, settle, clickTimeout time.Duration, logger *zap.Logger) *Checkbox {
	if settle < 0 {
		settle = DEFAULT_CHECKBOX_SETTLE
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkbox{
		page:    page,
		settle:  settle,
		timeout: clickTimeout,
		logger:  logger.With(zap.String("provider", "checkbox")),
	}
}

func (c *Checkbox) Name() string {
	return "checkbox"
}

func (c *Checkbox) Solve(ctx context.Context, challenge Challenge, _ proxy.Proxy) (string, error) {
	if widgetOrDefault(challenge.Widget) != WidgetHCaptcha {
		return "", ErrUnsupported
	}

	err := c.page.ClickInFrame(ctx,
		browser.CSS(HCAPTCHA_FRAME_SELECTOR),
		browser.CSS(HCAPTCHA_CHECKBOX_SELECTOR),
		browser.ClickOptions{Timeout: c.timeout},
	)
	if err != nil {
		return "", failure(c.Name(), "checkbox not clickable", err)
	}
	c.logger.Debug("Checkbox clicked")

	if err := wait(ctx, c.settle); err != nil {
		return "", failure(c.Name(), "timeout", err)
	}

	token, err := c.page.Evaluate(ctx, readResponseScript)
	if err != nil {
		return "", failure(c.Name(), "cannot read response field", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", failure(c.Name(), "checkbox did not produce a token", nil)
	}
	return token, nil
}

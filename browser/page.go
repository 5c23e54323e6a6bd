package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrElementNotFound is returned when a locator matched nothing within its wait bound.
var ErrElementNotFound = errors.New("element not found")

// WaitCondition tells Navigate when the navigation counts as finished.
type WaitCondition int

const (
	// Response headers received. Cheapest, used for probing.
	WaitCommit WaitCondition = iota
	WaitDOMContentLoaded
	WaitLoad
	WaitNetworkIdle
)

func (w WaitCondition) String() string {
	switch w {
	case WaitCommit:
		return "commit"
	case WaitDOMContentLoaded:
		return "domcontentloaded"
	case WaitLoad:
		return "load"
	case WaitNetworkIdle:
		return "networkidle"
	default:
		return fmt.Sprintf("wait(%d)", int(w))
	}
}

// Locator addresses page elements by CSS selector and, optionally,
// by a regular expression the element's visible text must match.
type Locator struct {
	Selector string
	Pattern  string
}

// CSS builds a locator without text filter.
func CSS(selector string) Locator {
	return Locator{Selector: selector}
}

// WithText builds a locator filtered by text pattern.
func WithText(selector, pattern string) Locator {
	return Locator{Selector: selector, Pattern: pattern}
}

func (l Locator) String() string {
	if l.Pattern == "" {
		return l.Selector
	}
	return l.Selector + " /" + l.Pattern + "/"
}

// ClickOptions tune a single click.
type ClickOptions struct {
	// Dispatch the click from script, bypassing actionability checks
	Force bool

	// How long to wait for the element. Zero means do not wait.
	Timeout time.Duration
}

// Page is the browser-driving collaborator. Every engine step talks to
// the page only through this interface.
type Page interface {
	// Navigate to url and wait for the given condition. Returns the main response status.
	Navigate(ctx context.Context, url string, wait WaitCondition) (int, error)

	// Current page url
	URL() string

	// Number of elements matching locator right now
	Count(ctx context.Context, loc Locator) (int, error)

	// Click the first element matching locator
	Click(ctx context.Context, loc Locator, opts ClickOptions) error

	// Click an element inside the first frame matching frame locator
	ClickInFrame(ctx context.Context, frame, target Locator, opts ClickOptions) error

	// Visible text of the first element matching locator
	Text(ctx context.Context, loc Locator) (string, error)

	// Attribute value of the first element matching locator. The bool reports presence.
	Attribute(ctx context.Context, loc Locator, name string) (string, bool, error)

	// Disabled state of the first element matching locator
	Disabled(ctx context.Context, loc Locator) (bool, error)

	// Evaluate a function expression against the page with args, returns its result as string
	Evaluate(ctx context.Context, script string, args ...any) (string, error)

	// PNG screenshot of viewport or the full page
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// Full page markup
	HTML(ctx context.Context) (string, error)
}

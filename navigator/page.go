package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/CbIPOKGIT/claimer/browser"
)

// Runs before any page script of every new document
const STEALTH_SCRIPT = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	window.navigator.chrome = { runtime: {} };
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
})();`

// Finds first element by selector whose text matches the optional regexp
const findScript = `(selector, source, flags) => {
	const re = source ? new RegExp(source, flags) : null;
	for (const el of document.querySelectorAll(selector)) {
		if (!re || re.test(el.innerText || el.textContent || "")) {
			return el;
		}
	}
	return null;
}`

const countScript = `(selector, source, flags) => {
	const re = source ? new RegExp(source, flags) : null;
	let n = 0;
	for (const el of document.querySelectorAll(selector)) {
		if (!re || re.test(el.innerText || el.textContent || "")) {
			n++;
		}
	}
	return n;
}`

const forceClickScript = `function () {
	this.removeAttribute("disabled");
	this.click();
}`

// Navigate to url and wait for the requested condition.
// Status is taken from the main document response.
func (navigator *ChromeNavigator) Navigate(ctx context.Context, url string, wait browser.WaitCondition) (int, error) {
	return navigate(ctx, navigator.Page, url, wait, navigator.Model.navigationTimeout())
}

func (navigator *ChromeNavigator) URL() string {
	info, err := navigator.Page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (navigator *ChromeNavigator) Count(ctx context.Context, loc browser.Locator) (int, error) {
	return count(navigator.Page.Context(ctx), loc)
}

func (navigator *ChromeNavigator) Click(ctx context.Context, loc browser.Locator, opts browser.ClickOptions) error {
	element, err := find(ctx, navigator.Page, loc, opts.Timeout)
	if err != nil {
		return err
	}
	return click(element, opts)
}

func (navigator *ChromeNavigator) ClickInFrame(ctx context.Context, frame, target browser.Locator, opts browser.ClickOptions) error {
	frameElement, err := find(ctx, navigator.Page, frame, opts.Timeout)
	if err != nil {
		return err
	}

	framePage, err := frameElement.Frame()
	if err != nil {
		return fmt.Errorf("enter frame %s: %w", frame, err)
	}

	element, err := find(ctx, framePage, target, opts.Timeout)
	if err != nil {
		return err
	}
	return click(element, opts)
}

func (navigator *ChromeNavigator) Text(ctx context.Context, loc browser.Locator) (string, error) {
	element, err := find(ctx, navigator.Page, loc, 0)
	if err != nil {
		return "", err
	}
	return element.Text()
}

func (navigator *ChromeNavigator) Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error) {
	element, err := find(ctx, navigator.Page, loc, 0)
	if err != nil {
		return "", false, err
	}

	value, err := element.Attribute(name)
	if err != nil || value == nil {
		return "", false, err
	}
	return *value, true, nil
}

func (navigator *ChromeNavigator) Disabled(ctx context.Context, loc browser.Locator) (bool, error) {
	element, err := find(ctx, navigator.Page, loc, 0)
	if err != nil {
		return false, err
	}
	return element.Disabled()
}

// Evaluate script
func (navigator *ChromeNavigator) Evaluate(ctx context.Context, script string, args ...any) (string, error) {
	result, err := navigator.Page.Context(ctx).Eval(script, args...)
	if err != nil {
		return "", err
	}
	if result.Value.Nil() {
		return "", nil
	}
	return result.Value.Str(), nil
}

func (navigator *ChromeNavigator) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return navigator.Page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (navigator *ChromeNavigator) HTML(ctx context.Context) (string, error) {
	return navigator.Page.Context(ctx).HTML()
}

var _ browser.Page = (*ChromeNavigator)(nil)

// ------------------------------------------------------------

func navigate(ctx context.Context, page *rod.Page, url string, wait browser.WaitCondition, timeout time.Duration) (int, error) {
	page = page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	var status int
	waitResponse := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status = e.Response.Status
		return true
	})

	var waitLoad func()
	if event, ok := getPageLoadEvent(wait); ok {
		waitLoad = page.WaitNavigation(event)
	}

	if err := page.Navigate(url); err != nil {
		return 0, err
	}

	waitResponse()
	if status == 0 {
		if err := page.GetContext().Err(); err != nil {
			return 0, fmt.Errorf("no response from %s: %w", url, err)
		}
		return 0, fmt.Errorf("no response from %s", url)
	}

	if waitLoad != nil {
		waitLoad()
		if err := page.GetContext().Err(); err != nil {
			return status, fmt.Errorf("wait %s: %w", wait, err)
		}
	}
	return status, nil
}

// Get load event name. Commit has no lifecycle event, response is enough.
func getPageLoadEvent(wait browser.WaitCondition) (proto.PageLifecycleEventName, bool) {
	switch wait {
	case browser.WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded, true
	case browser.WaitLoad:
		return proto.PageLifecycleEventNameLoad, true
	case browser.WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle, true
	default:
		return "", false
	}
}

func count(page *rod.Page, loc browser.Locator) (int, error) {
	source, flags := jsRegexp(loc.Pattern)
	result, err := page.Eval(countScript, loc.Selector, source, flags)
	if err != nil {
		return 0, err
	}
	return result.Value.Int(), nil
}

// find waits up to timeout for the element. Zero timeout checks once.
func find(ctx context.Context, page *rod.Page, loc browser.Locator, timeout time.Duration) (*rod.Element, error) {
	page = page.Context(ctx)

	if timeout <= 0 {
		n, err := count(page, loc)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, loc)
		}
	} else {
		page = page.Timeout(timeout)
		defer page.CancelTimeout()
	}

	source, flags := jsRegexp(loc.Pattern)
	element, err := page.ElementByJS(rod.Eval(findScript, loc.Selector, source, flags))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, loc)
		}
		return nil, err
	}
	return element.Context(ctx), nil
}

func click(element *rod.Element, opts browser.ClickOptions) error {
	if opts.Force {
		_, err := element.Eval(forceClickScript)
		return err
	}

	if opts.Timeout > 0 {
		element = element.Timeout(opts.Timeout)
		defer element.CancelTimeout()
	}
	return element.Click(proto.InputMouseButtonLeft, 1)
}

// jsRegexp converts a Go style pattern into RegExp source and flags.
// Only the leading case-insensitive flag group is translated.
func jsRegexp(pattern string) (string, string) {
	if rest, ok := strings.CutPrefix(pattern, "(?i)"); ok {
		return rest, "i"
	}
	return pattern, ""
}

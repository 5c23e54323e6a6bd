package navigator

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// ChromeNavigator drives a single chromium tab. It owns the browser process
// for its whole life and implements browser.Page.
type ChromeNavigator struct {
	Model Model

	Browser *rod.Browser
	Page    *rod.Page

	launcher *launcher.Launcher
	logger   *zap.Logger
}

// NewChromeNavigator launches the browser and opens a stealth tab.
// The browser outlives ctx: it is bound only to Close.
func NewChromeNavigator(ctx context.Context, model Model, logger *zap.Logger) (*ChromeNavigator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	navigator := &ChromeNavigator{Model: model, logger: logger}
	if err := navigator.createClient(); err != nil {
		navigator.Close()
		return nil, err
	}
	return navigator, nil
}

// Close the tab and the browser process. Safe to call more than once.
func (navigator *ChromeNavigator) Close() error {
	var errPage, errBrowser error = navigator.closePage(), navigator.closeBrowser()
	if navigator.launcher != nil {
		navigator.launcher.Kill()
		navigator.launcher.Cleanup()
		navigator.launcher = nil
	}
	return errors.Join(errPage, errBrowser)
}

func (navigator *ChromeNavigator) closePage() error {
	var err error
	if navigator.Page != nil {
		err = navigator.Page.Close()
		navigator.Page = nil
	}
	return err
}

func (navigator *ChromeNavigator) closeBrowser() error {
	var err error
	if navigator.Browser != nil {
		err = navigator.Browser.Close()
		navigator.Browser = nil
	}
	return err
}

func (navigator *ChromeNavigator) createClient() error {
	var err error
	navigator.launcher, navigator.Browser, err = createBrowser(context.Background(), navigator.Model, navigator.logger)
	if err != nil {
		return err
	}

	page, err := stealth.Page(navigator.Browser)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	navigator.Page = page

	if err := navigator.prepareTab(); err != nil {
		return fmt.Errorf("prepare page: %w", err)
	}
	return nil
}

// prepareTab applies fingerprint settings that must be in place before the first navigation.
func (navigator *ChromeNavigator) prepareTab() error {
	if _, err := navigator.Page.EvalOnNewDocument(STEALTH_SCRIPT); err != nil {
		return err
	}

	err := navigator.Page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      navigator.Model.userAgent(),
		AcceptLanguage: "en-US,en;q=0.9",
	})
	if err != nil {
		return err
	}

	width, height := navigator.Model.viewport()
	return navigator.Page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

// createBrowser starts chromium with the automation flags stripped and
// connects to it. Proxy credentials are answered from the Fetch domain.
func createBrowser(ctx context.Context, model Model, logger *zap.Logger) (*launcher.Launcher, *rod.Browser, error) {
	l := launcher.New().
		Context(ctx).
		Headless(!model.Visible).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("lang", "en-US")

	if model.Bin != "" {
		l = l.Bin(model.Bin)
	}

	if model.Proxy.Address != "" {
		l = l.Proxy(model.Proxy.Server())
	}

	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connect browser: %w", err)
	}

	if user, password, ok := model.Proxy.Credentials(); ok {
		wait := browser.HandleAuth(user, password)
		go func() {
			if err := wait(); err != nil {
				logger.Debug("Proxy auth handler stopped", zap.Error(err))
			}
		}()
	}

	return l, browser, nil
}

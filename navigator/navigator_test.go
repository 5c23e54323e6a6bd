package navigator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/proxy"
)

func TestJSRegexp(t *testing.T) {
	source, flags := jsRegexp("(?i)click here to claim|complete the captcha")
	assert.Equal(t, "click here to claim|complete the captcha", source)
	assert.Equal(t, "i", flags)

	source, flags = jsRegexp(`^\s*OK\s*$`)
	assert.Equal(t, `^\s*OK\s*$`, source)
	assert.Empty(t, flags)
}

func TestGetPageLoadEvent(t *testing.T) {
	_, ok := getPageLoadEvent(browser.WaitCommit)
	assert.False(t, ok)

	for wait, want := range map[browser.WaitCondition]proto.PageLifecycleEventName{
		browser.WaitDOMContentLoaded: proto.PageLifecycleEventNameDOMContentLoaded,
		browser.WaitLoad:             proto.PageLifecycleEventNameLoad,
		browser.WaitNetworkIdle:      proto.PageLifecycleEventNameNetworkIdle,
	} {
		event, ok := getPageLoadEvent(wait)
		assert.True(t, ok, wait.String())
		assert.Equal(t, want, event)
	}
}

func TestModelDefaults(t *testing.T) {
	var m Model
	width, height := m.viewport()
	assert.Equal(t, DEFAULT_VIEWPORT_WIDTH, width)
	assert.Equal(t, DEFAULT_VIEWPORT_HEIGHT, height)
	assert.Equal(t, DEFAULT_USER_AGENT, m.userAgent())
	assert.Equal(t, DEFAULT_NAVIGATION_TIMEOUT, m.navigationTimeout())

	m = Model{Width: 800, Height: 600, UserAgent: "ua", NavigationTimeout: time.Second}
	width, height = m.viewport()
	assert.Equal(t, 800, width)
	assert.Equal(t, 600, height)
	assert.Equal(t, "ua", m.userAgent())
	assert.Equal(t, time.Second, m.navigationTimeout())
}

// Live tests start a real chromium. Enabled with CLAIMER_LIVE_BROWSER=1.
func liveBrowser(t *testing.T) {
	t.Helper()
	if os.Getenv("CLAIMER_LIVE_BROWSER") != "1" {
		t.Skip("set CLAIMER_LIVE_BROWSER=1 to run browser tests")
	}
}

const livePage = `<html><body>
	<div class="h-captcha" data-sitekey="live-key"></div>
	<button class="btn-success" disabled>Complete the captcha</button>
	<button id="ok">OK</button>
</body></html>`

func TestChromeNavigatorLive(t *testing.T) {
	liveBrowser(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, livePage)
	}))
	defer server.Close()

	ctx := context.Background()
	navigator, err := NewChromeNavigator(ctx, Model{}, nil)
	require.NoError(t, err)
	defer navigator.Close()

	status, err := navigator.Navigate(ctx, server.URL, browser.WaitLoad)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	n, err := navigator.Count(ctx, browser.WithText("button", "(?i)complete the captcha"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	disabled, err := navigator.Disabled(ctx, browser.CSS(".btn-success"))
	require.NoError(t, err)
	assert.True(t, disabled)

	key, ok, err := navigator.Attribute(ctx, browser.CSS(".h-captcha"), "data-sitekey")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "live-key", key)

	webdriver, err := navigator.Evaluate(ctx, `() => String(navigator.webdriver)`)
	require.NoError(t, err)
	assert.Equal(t, "undefined", webdriver)

	_, err = navigator.Evaluate(ctx, `(k, v) => window.localStorage.setItem(k, v)`, "token", "secret")
	require.NoError(t, err)
	stored, err := navigator.Evaluate(ctx, `(k) => window.localStorage.getItem(k)`, "token")
	require.NoError(t, err)
	assert.Equal(t, "secret", stored)

	require.NoError(t, navigator.Click(ctx, browser.WithText("button", `^\s*OK\s*$`), browser.ClickOptions{Timeout: time.Second}))

	err = navigator.Click(ctx, browser.CSS("#missing"), browser.ClickOptions{Timeout: 200 * time.Millisecond})
	assert.ErrorIs(t, err, browser.ErrElementNotFound)

	shot, err := navigator.Screenshot(ctx, true)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)
}

func TestProberLive(t *testing.T) {
	liveBrowser(t)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	prober := &Prober{}
	_, err := prober.Probe(context.Background(), proxy.Proxy{Address: "http://127.0.0.1:1"}, target.URL)
	assert.Error(t, err, "dead proxy must not pass")
}

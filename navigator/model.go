package navigator

import (
	"time"

	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	DEFAULT_NAVIGATION_TIMEOUT = 60 * time.Second
	DEFAULT_VIEWPORT_WIDTH     = 1280
	DEFAULT_VIEWPORT_HEIGHT    = 720

	DEFAULT_USER_AGENT = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Model of the navigator
type Model struct {
	// Chromium visible
	Visible bool

	// Path to the browser binary. Empty - let launcher download or find one
	Bin string

	UserAgent string
	Width     int
	Height    int

	// Bound for a whole navigation, response plus load event
	NavigationTimeout time.Duration

	// Route all traffic through the proxy. Zero value - direct connection
	Proxy proxy.Proxy
}

func (m Model) navigationTimeout() time.Duration {
	if m.NavigationTimeout > 0 {
		return m.NavigationTimeout
	}
	return DEFAULT_NAVIGATION_TIMEOUT
}

func (m Model) userAgent() string {
	if m.UserAgent != "" {
		return m.UserAgent
	}
	return DEFAULT_USER_AGENT
}

func (m Model) viewport() (int, int) {
	width, height := m.Width, m.Height
	if width <= 0 {
		width = DEFAULT_VIEWPORT_WIDTH
	}
	if height <= 0 {
		height = DEFAULT_VIEWPORT_HEIGHT
	}
	return width, height
}

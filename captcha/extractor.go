package captcha

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
)

const (
	// hCaptcha public test key, always passes in sandbox
	DEFAULT_FALLBACK_SITE_KEY = "10000000-ffff-ffff-ffff-000000000001"

	SITE_KEY_ATTRIBUTE   = "data-sitekey"
	HCAPTCHA_RQDATA_ATTR = "data-rqdata"
	RECAPTCHA_S_ATTR     = "data-s"

	CHALLENGE_FRAME_SELECTOR = "iframe[src*='hcaptcha.com'], iframe[src*='recaptcha'], iframe[src*='challenges.cloudflare.com']"
)

var (
	frameSiteKeyRegexp  = regexp.MustCompile(`[?&#]sitekey=([^&#]+)`)
	frameReCaptchaKeyRe = regexp.MustCompile(`[?&]k=([^&#]+)`)
)

// Extractor reads challenge parameters from the current page markup.
// Extraction never fails: when nothing is found on the page the last
// seen key is reused, then the configured fallback.
type Extractor struct {
	fallback string
	logger   *zap.Logger

	mu      sync.Mutex
	lastKey string
}

func NewExtractor(fallbackSiteKey string, logger *zap.Logger) *Extractor {
	if fallbackSiteKey == "" {
		fallbackSiteKey = DEFAULT_FALLBACK_SITE_KEY
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fallback: fallbackSiteKey, logger: logger}
}

// Extract builds the challenge from page. Page errors only downgrade the result to the fallback key.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) Challenge {
	challenge := Challenge{
		Kind:    KindCheckbox,
		Widget:  WidgetHCaptcha,
		PageURL: page.URL(),
	}

	html, err := page.HTML(ctx)
	if err != nil {
		e.logger.Warn("Cannot read page markup, using fallback site key", zap.Error(err))
		challenge.SiteKey = e.remembered()
		return challenge
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn("Cannot parse page markup, using fallback site key", zap.Error(err))
		challenge.SiteKey = e.remembered()
		return challenge
	}

	return e.fromDocument(doc, challenge)
}

func (e *Extractor) fromDocument(doc *goquery.Document, challenge Challenge) Challenge {
	challenge.Widget = detectWidget(doc)

	key, source := siteKey(doc)
	if key == "" {
		challenge.SiteKey = e.remembered()
		e.logger.Info("Site key not found on page", zap.String("site_key", challenge.SiteKey))
	} else {
		challenge.SiteKey = key
		e.remember(key)
		e.logger.Debug("Site key found", zap.String("site_key", key), zap.String("source", source))
	}

	challenge.ExtraData = extraData(doc, challenge.Widget)

	switch {
	case challenge.ExtraData != "":
		challenge.Kind = KindEnterprise
	case challenge.Widget != WidgetHCaptcha:
		challenge.Kind = KindAlternate
	default:
		challenge.Kind = KindCheckbox
	}

	return challenge
}

func (e *Extractor) remember(key string) {
	e.mu.Lock()
	e.lastKey = key
	e.mu.Unlock()
}

// remembered returns the last live key or the fallback.
func (e *Extractor) remembered() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastKey != "" {
		return e.lastKey
	}
	return e.fallback
}

func detectWidget(doc *goquery.Document) Widget {
	switch {
	case doc.Find(".h-captcha, iframe[src*='hcaptcha.com']").Length() > 0:
		return WidgetHCaptcha
	case doc.Find(".g-recaptcha, iframe[src*='recaptcha']").Length() > 0:
		return WidgetReCaptcha
	case doc.Find(".cf-turnstile, iframe[src*='challenges.cloudflare.com']").Length() > 0:
		return WidgetTurnstile
	default:
		return WidgetHCaptcha
	}
}

// siteKey looks at the widget attribute first, then at challenge frame urls.
func siteKey(doc *goquery.Document) (string, string) {
	var key string
	doc.Find("[" + SITE_KEY_ATTRIBUTE + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		key = strings.TrimSpace(s.AttrOr(SITE_KEY_ATTRIBUTE, ""))
		return key == ""
	})
	if key != "" {
		return key, "attribute"
	}

	doc.Find(CHALLENGE_FRAME_SELECTOR).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		key = siteKeyFromFrameURL(s.AttrOr("src", ""))
		return key == ""
	})
	if key != "" {
		return key, "frame"
	}
	return "", ""
}

func siteKeyFromFrameURL(src string) string {
	if m := frameSiteKeyRegexp.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	if strings.Contains(src, "recaptcha") {
		if m := frameReCaptchaKeyRe.FindStringSubmatch(src); m != nil {
			return m[1]
		}
	}
	return ""
}

func extraData(doc *goquery.Document, widget Widget) string {
	attr := HCAPTCHA_RQDATA_ATTR
	if widget == WidgetReCaptcha {
		attr = RECAPTCHA_S_ATTR
	}

	value, _ := doc.Find("[" + attr + "]").First().Attr(attr)
	return strings.TrimSpace(value)
}

package captcha

import "fmt"

// Kind of the challenge gate found on the page.
type Kind int

const (
	KindNone Kind = iota
	KindCheckbox
	KindEnterprise
	KindAlternate
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCheckbox:
		return "checkbox"
	case KindEnterprise:
		return "enterprise"
	case KindAlternate:
		return "alternate-widget"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Widget is the vendor of the challenge widget.
type Widget string

const (
	WidgetHCaptcha  Widget = "hcaptcha"
	WidgetReCaptcha Widget = "recaptcha"
	WidgetTurnstile Widget = "turnstile"
)

// Challenge holds everything a provider needs to request a matching token.
// It is extracted fresh every cycle and never persisted.
type Challenge struct {
	Kind    Kind
	Widget  Widget
	SiteKey string

	// Enterprise request data (hCaptcha rqdata, reCAPTCHA s). Empty if absent.
	ExtraData string

	PageURL string
}

// Enterprise reports whether extra request data must be forwarded.
func (c Challenge) Enterprise() bool {
	return c.Kind == KindEnterprise && c.ExtraData != ""
}

package captcha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/h2non/gentleman.v2"

	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	NOPECHA_API_URL = "https://api.nopecha.com"

	// NopeCHA answers polls of unfinished jobs with this error code
	nopechaIncompleteJob = 14
)

// NopeCHA is the token API of nopecha.com: submit a job, then poll it by id.
type NopeCHA struct {
	apiKey string
	client *gentleman.Client
	poll   PollOptions
	logger *zap.Logger
}

type nopechaSubmit struct {
	Key     string            `json:"key"`
	Type    string            `json:"type"`
	SiteKey string            `json:"sitekey"`
	URL     string            `json:"url"`
	Data    map[string]string `json:"data,omitempty"`
	Proxy   map[string]any    `json:"proxy,omitempty"`
}

type nopechaResponse struct {
	Data    string `json:"data"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func NewNopeCHA(apiKey, baseURL string, poll PollOptions, logger *zap.Logger) *NopeCHA {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NopeCHA{
		apiKey: apiKey,
		client: newHTTPClient(orDefault(baseURL, NOPECHA_API_URL), REQUEST_TIMEOUT),
		poll:   poll.normalize(),
		logger: logger.With(zap.String("provider", "nopecha")),
	}
}

func (n *NopeCHA) Name() string {
	return "nopecha"
}

func (n *NopeCHA) Solve(ctx context.Context, challenge Challenge, prx proxy.Proxy) (string, error) {
	if n.apiKey == "" {
		return "", failure(n.Name(), "api key is not set", nil)
	}

	body := &nopechaSubmit{
		Key:     n.apiKey,
		Type:    nopechaType(challenge.Widget),
		SiteKey: challenge.SiteKey,
		URL:     challenge.PageURL,
	}
	if challenge.Enterprise() {
		body.Data = map[string]string{"rqdata": challenge.ExtraData}
	}
	if prx.Address != "" {
		fields, err := proxyFields(prx)
		if err != nil {
			return "", failure(n.Name(), "invalid proxy", err)
		}
		body.Proxy = map[string]any{
			"scheme":   fields["proxyType"],
			"host":     fields["proxyAddress"],
			"port":     fields["proxyPort"],
			"username": fields["proxyLogin"],
			"password": fields["proxyPassword"],
		}
	}

	submitted := &nopechaResponse{}
	if err := postJSON(ctx, n.client, "/token/", body, submitted); err != nil {
		return "", n.transportFailure(err)
	}
	if submitted.Error != 0 {
		return "", n.apiFailure(submitted)
	}
	if submitted.Data == "" {
		return "", failure(n.Name(), "submit returned no job id", nil)
	}

	return n.result(ctx, submitted.Data)
}

func (n *NopeCHA) result(ctx context.Context, job string) (string, error) {
	for attempt := 1; attempt <= n.poll.Attempts; attempt++ {
		if err := wait(ctx, n.poll.Interval); err != nil {
			return "", failure(n.Name(), "timeout", err)
		}

		request := n.client.Request().Method("GET").Path("/token/").
			SetQuery("key", n.apiKey).
			SetQuery("id", job)

		response := &nopechaResponse{}
		if err := send(ctx, request, response); err != nil {
			return "", n.transportFailure(err)
		}

		switch {
		case response.Error == nopechaIncompleteJob:
			n.logger.Debug("Job not ready", zap.Int("attempt", attempt))
			continue
		case response.Error != 0:
			return "", n.apiFailure(response)
		case response.Data == "":
			return "", failure(n.Name(), "finished job without token", nil)
		}
		return response.Data, nil
	}

	return "", failure(n.Name(), fmt.Sprintf("poll budget exhausted after %d attempts", n.poll.Attempts), nil)
}

func (n *NopeCHA) apiFailure(response *nopechaResponse) error {
	reason := response.Message
	if reason == "" {
		reason = "unknown error"
	}
	return failure(n.Name(), fmt.Sprintf("error %d: %s", response.Error, reason), nil)
}

func (n *NopeCHA) transportFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failure(n.Name(), "timeout", err)
	}
	return failure(n.Name(), "api unreachable", err)
}

func nopechaType(w Widget) string {
	switch w {
	case WidgetReCaptcha:
		return "recaptcha2"
	case WidgetTurnstile:
		return "turnstile"
	default:
		return "hcaptcha"
	}
}

package captcha

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/h2non/gentleman.v2"

	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	DEFAULT_AGENT_TIMEOUT = 60 * time.Second
)

// Agent delegates solving to a local AI-agent solver reachable over HTTP.
// One request, one answer: the call blocks until the agent returns a token or an error.
type Agent struct {
	client  *gentleman.Client
	timeout time.Duration
	logger  *zap.Logger
}

type agentRequest struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	SiteKey string `json:"sitekey"`
	URL     string `json:"url"`
	RqData  string `json:"rqdata,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
}

type agentResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

func NewAgent(endpoint string, timeout time.Duration, logger *zap.Logger) *Agent {
	if timeout <= 0 {
		timeout = DEFAULT_AGENT_TIMEOUT
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		client:  newHTTPClient(endpoint, timeout+time.Second),
		timeout: timeout,
		logger:  logger.With(zap.String("provider", "agent")),
	}
}

func (a *Agent) Name() string {
	return "agent"
}

func (a *Agent) Solve(ctx context.Context, challenge Challenge, prx proxy.Proxy) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	request := &agentRequest{
		ID:      uuid.NewString(),
		Type:    string(widgetOrDefault(challenge.Widget)),
		SiteKey: challenge.SiteKey,
		URL:     challenge.PageURL,
		Proxy:   prx.Address,
	}
	if challenge.Enterprise() {
		request.RqData = challenge.ExtraData
	}

	a.logger.Debug("Asking agent", zap.String("request_id", request.ID))

	response := &agentResponse{}
	if err := postJSON(ctx, a.client, "/solve", request, response); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", failure(a.Name(), "timeout", err)
		}
		return "", failure(a.Name(), "agent unreachable", err)
	}

	if response.Error != "" {
		return "", failure(a.Name(), response.Error, nil)
	}
	return response.Token, nil
}

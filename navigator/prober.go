package navigator

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/proxy"
)

// Prober checks proxies with a throwaway browser per candidate.
type Prober struct {
	Model  Model
	Logger *zap.Logger
}

// Probe opens probeURL through prx and reports the main response status.
// The browser is always torn down before return.
func (p *Prober) Probe(ctx context.Context, prx proxy.Proxy, probeURL string) (int, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	model := p.Model
	model.Proxy = prx

	l, b, err := createBrowser(ctx, model, logger)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			logger.Debug("Probe browser close failed", zap.Error(closeErr))
		}
		l.Kill()
		l.Cleanup()
	}()

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return 0, fmt.Errorf("open probe page: %w", err)
	}

	return navigate(ctx, page, probeURL, browser.WaitCommit, model.navigationTimeout())
}

var _ proxy.Prober = (*Prober)(nil)

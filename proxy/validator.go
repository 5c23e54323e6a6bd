package proxy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DEFAULT_PROBE_TIMEOUT = 15 * time.Second
)

// ErrNoWorkingProxy is reported by callers that require a proxy and got none.
var ErrNoWorkingProxy = errors.New("no working proxy")

// Prober opens an isolated, short-lived browsing session through proxy,
// requests url waiting only for the response headers and returns the status.
// The session must be closed before Probe returns, whatever the outcome.
type Prober interface {
	Probe(ctx context.Context, proxy Proxy, url string) (int, error)
}

// Validator finds the first reachable proxy of a candidate list.
type Validator struct {
	prober      Prober
	timeout     time.Duration
	parallelism int
	logger      *zap.Logger
}

func NewValidator(prober Prober, timeout time.Duration, parallelism int, logger *zap.Logger) *Validator {
	if timeout <= 0 {
		timeout = DEFAULT_PROBE_TIMEOUT
	}
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		prober:      prober,
		timeout:     timeout,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Validate returns the first candidate, in input order, whose probe answered 200.
// Candidate failures are never fatal here: the caller decides what an empty result means.
func (v *Validator) Validate(ctx context.Context, candidates []Proxy, probeURL string) (Proxy, bool) {
	if len(candidates) == 0 {
		return Proxy{}, false
	}

	v.logger.Info("Checking proxies", zap.Int("candidates", len(candidates)))

	var (
		found Proxy
		ok    bool
	)
	if v.parallelism == 1 {
		found, ok = v.sequential(ctx, candidates, probeURL)
	} else {
		found, ok = v.parallel(ctx, candidates, probeURL)
	}

	if ok {
		v.logger.Info("Proxy accepted", zap.Stringer("proxy", found))
	} else {
		v.logger.Warn("All proxy candidates failed")
	}
	return found, ok
}

func (v *Validator) sequential(ctx context.Context, candidates []Proxy, probeURL string) (Proxy, bool) {
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return Proxy{}, false
		}
		if v.check(ctx, candidate, probeURL) {
			return candidate, true
		}
	}
	return Proxy{}, false
}

// parallel keeps the input priority: the lowest accepted index wins, and
// candidates behind an already accepted one are skipped.
func (v *Validator) parallel(ctx context.Context, candidates []Proxy, probeURL string) (Proxy, bool) {
	var (
		mu   sync.Mutex
		best = len(candidates)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.parallelism)

	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			mu.Lock()
			skip := i > best
			mu.Unlock()
			if skip || gctx.Err() != nil {
				return nil
			}

			if v.check(gctx, candidate, probeURL) {
				mu.Lock()
				if i < best {
					best = i
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if best == len(candidates) {
		return Proxy{}, false
	}
	return candidates[best], true
}

func (v *Validator) check(ctx context.Context, candidate Proxy, probeURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	log := v.logger.With(zap.Stringer("proxy", candidate))
	log.Debug("Probing proxy", zap.String("url", probeURL))

	status, err := v.prober.Probe(ctx, candidate, probeURL)
	if err != nil {
		log.Info("Proxy unreachable", zap.Error(err))
		return false
	}
	if status != http.StatusOK {
		log.Info("Proxy answered with unexpected status", zap.Int("status", status))
		return false
	}
	return true
}

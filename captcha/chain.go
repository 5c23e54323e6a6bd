package captcha

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/proxy"
)

// Chain tries its solvers strictly in order and stops at the first token.
type Chain struct {
	solvers []Solver
	logger  *zap.Logger
}

func NewChain(logger *zap.Logger, solvers ...Solver) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{solvers: solvers, logger: logger}
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	return len(c.solvers)
}

// Names lists providers in priority order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.solvers))
	for _, s := range c.solvers {
		names = append(names, s.Name())
	}
	return names
}

// Solve runs the chain within budget. A provider is left only on an explicit
// failure or its timeout. If every provider fails the last failure is returned.
func (c *Chain) Solve(ctx context.Context, challenge Challenge, prx proxy.Proxy, budget time.Duration) (Result, error) {
	if len(c.solvers) == 0 {
		return Result{}, ErrNoProviders
	}

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var last error
	for _, solver := range c.solvers {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = failure(solver.Name(), "solve budget exhausted", err)
			}
			break
		}

		log := c.logger.With(zap.String("provider", solver.Name()))
		log.Info("Solving challenge",
			zap.Stringer("kind", challenge.Kind),
			zap.String("widget", string(challenge.Widget)),
			zap.String("site_key", challenge.SiteKey),
		)

		started := time.Now()
		token, err := solver.Solve(ctx, challenge, prx)
		if err == nil && token == "" {
			err = failure(solver.Name(), "empty token", nil)
		}
		if err == nil {
			log.Info("Challenge solved", zap.Duration("took", time.Since(started)))
			return Result{Token: token, Provider: solver.Name()}, nil
		}

		last = asSolveError(solver.Name(), err)
		if se := (*SolveError)(nil); errors.As(last, &se) && se.Fatal {
			log.Error("Provider failed permanently", zap.Error(last))
		} else {
			log.Warn("Provider failed", zap.Error(last), zap.Duration("took", time.Since(started)))
		}
	}

	return Result{}, last
}

func asSolveError(provider string, err error) error {
	var se *SolveError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return failure(provider, "timeout", err)
	case errors.Is(err, ErrUnsupported):
		return failure(provider, "unsupported challenge", err)
	default:
		return failure(provider, "provider error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/captcha"
	"github.com/CbIPOKGIT/claimer/claim"
	"github.com/CbIPOKGIT/claimer/config"
	"github.com/CbIPOKGIT/claimer/navigator"
	"github.com/CbIPOKGIT/claimer/proxy"
)

// run selects a proxy, starts the browser and drives the engine to a terminal outcome.
// An error means a precondition failed and no cycle was attempted.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (claim.Report, error) {
	model := browserModel(cfg)

	prober := &navigator.Prober{Model: model, Logger: logger.Named("navigator")}
	prx, err := selectProxy(ctx, cfg, prober, logger.Named("proxy"))
	if err != nil {
		return claim.Report{}, err
	}
	model.Proxy = prx

	nav, err := navigator.NewChromeNavigator(ctx, model, logger.Named("navigator"))
	if err != nil {
		return claim.Report{}, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := nav.Close(); err != nil {
			logger.Warn("Browser close failed", zap.Error(err))
		}
	}()

	captchaLogger := logger.Named("captcha")
	chain := captcha.NewChain(captchaLogger, buildSolvers(cfg, nav, captchaLogger)...)
	if chain.Len() == 0 {
		logger.Warn("No captcha provider is usable, a challenge will abort the run")
	} else {
		logger.Info("Captcha providers", zap.Strings("order", chain.Names()))
	}

	sink := claim.NewFileSink(
		cfg.Diagnostics.Dir,
		cfg.Diagnostics.FullPage,
		cfg.Diagnostics.ScreenshotTimeout,
		cfg.Diagnostics.Progress,
		logger.Named("diagnostics"),
	)
	logger.Info("Diagnostics directory", zap.String("path", sink.RunDir()))

	engine := claim.NewEngine(
		nav,
		claim.Session{AuthToken: cfg.Auth.Token, Proxy: prx},
		claim.NewAuthenticator(nav, cfg.Auth.StorageKey, logger.Named("auth")),
		captcha.NewExtractor(cfg.Captcha.FallbackSiteKey, captchaLogger),
		chain,
		sink,
		engineOptions(cfg),
		logger.Named("engine"),
	)
	return engine.Run(ctx), nil
}

// selectProxy returns the first working proxy of the configured list.
// No list means a direct connection. A list without a working entry is fatal
// only when proxies are required.
func selectProxy(ctx context.Context, cfg *config.Config, prober proxy.Prober, logger *zap.Logger) (proxy.Proxy, error) {
	candidates, invalid := cfg.Proxies()
	for _, entry := range invalid {
		logger.Warn("Skipping malformed proxy entry", zap.String("entry", entry))
	}

	if len(candidates) == 0 {
		logger.Info("No proxy configured, using a direct connection")
		return proxy.Proxy{}, nil
	}

	validator := proxy.NewValidator(prober, cfg.Proxy.ProbeTimeout, cfg.Proxy.Parallelism, logger)
	if found, ok := validator.Validate(ctx, candidates, cfg.Proxy.ProbeURL); ok {
		logger.Info("Using proxy", zap.Stringer("proxy", found))
		return found, nil
	}

	if err := ctx.Err(); err != nil {
		return proxy.Proxy{}, err
	}
	if cfg.Proxy.Required {
		return proxy.Proxy{}, fmt.Errorf("%w among %d candidates", proxy.ErrNoWorkingProxy, len(candidates))
	}

	logger.Warn("No working proxy, falling back to a direct connection", zap.Int("candidates", len(candidates)))
	return proxy.Proxy{}, nil
}

// buildSolvers instantiates the configured providers in order, skipping those without credentials.
func buildSolvers(cfg *config.Config, page browser.Page, logger *zap.Logger) []captcha.Solver {
	poll := captcha.PollOptions{Interval: cfg.Captcha.PollInterval, Attempts: cfg.Captcha.PollAttempts}

	var solvers []captcha.Solver
	for _, name := range cfg.Captcha.Providers {
		var (
			solver captcha.Solver
			key    string
		)
		switch name {
		case config.PROVIDER_AGENT:
			key = cfg.Captcha.AgentURL
			solver = captcha.NewAgent(key, cfg.Captcha.SyncTimeout, logger)
		case config.PROVIDER_CHECKBOX:
			key = "local"
			solver = captcha.NewCheckbox(page, -1, cfg.Engine.Timeouts.Action, logger)
		case config.PROVIDER_NOPECHA:
			key = cfg.Captcha.NopeCHAKey
			solver = captcha.NewNopeCHA(key, "", poll, logger)
		case config.PROVIDER_TWOCAPTCHA:
			key = cfg.Captcha.TwoCaptchaKey
			solver = captcha.NewTwoCaptcha(key, "", poll, logger)
		case config.PROVIDER_ANTICAPTCHA:
			key = cfg.Captcha.AntiCaptchaKey
			solver = captcha.NewAntiCaptcha(key, "", poll, logger)
		case config.PROVIDER_CAPSOLVER:
			key = cfg.Captcha.CapSolverKey
			solver = captcha.NewCapSolver(key, "", poll, logger)
		}

		if solver == nil || key == "" {
			logger.Debug("Captcha provider skipped, no credentials", zap.String("provider", name))
			continue
		}
		solvers = append(solvers, solver)
	}
	return solvers
}

func browserModel(cfg *config.Config) navigator.Model {
	return navigator.Model{
		Visible:           !cfg.Browser.Headless,
		Bin:               cfg.Browser.Bin,
		UserAgent:         cfg.Browser.UserAgent,
		Width:             cfg.Browser.Width,
		Height:            cfg.Browser.Height,
		NavigationTimeout: cfg.Engine.Timeouts.Navigation,
	}
}

func engineOptions(cfg *config.Config) claim.Options {
	delays := cfg.Engine.Delays
	timeouts := cfg.Engine.Timeouts

	return claim.Options{
		RootURL:         cfg.Site.RootURL,
		TargetURL:       cfg.Site.TargetURL,
		MaxCycles:       cfg.Engine.MaxCycles,
		SafetyCycles:    cfg.Engine.SafetyCycles,
		SolveBudget:     cfg.Captcha.Budget,
		CooldownPhrases: cfg.Engine.CooldownPhrases,
		Delays: claim.Delays{
			PageSettle:      delays.PageSettle,
			ChallengeSettle: delays.ChallengeSettle,
			InjectionSettle: delays.InjectionSettle,
			ClickSettle:     delays.ClickSettle,
			Progress:        delays.Progress,
			CycleSettle:     delays.CycleSettle,
		},
		Timeouts: claim.Timeouts{
			Action:       timeouts.Action,
			Interstitial: timeouts.Interstitial,
			Confirm:      timeouts.Confirm,
		},
	}
}

func exitCode(report claim.Report) int {
	switch {
	case report.Outcome.Kind == claim.TerminalSuccess:
		return EXIT_OK
	case report.Outcome.Reason == claim.ReasonNoProviders:
		return EXIT_FATAL
	default:
		return EXIT_ABORT
	}
}

func printReport(w io.Writer, report claim.Report) {
	fmt.Fprintf(w, "Outcome: %s\n", report.Outcome)
	if report.Outcome.Cooldown {
		fmt.Fprintln(w, "Cooldown: quota for today is used up")
	}
	fmt.Fprintf(w, "Completed cycles: %d\n", report.Cycles)

	via := "direct"
	if report.Proxy.Address != "" {
		via = report.Proxy.Display()
	}
	fmt.Fprintf(w, "Connection: %s\n", via)
}

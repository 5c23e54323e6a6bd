package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/captcha"
	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	DEFAULT_MAX_CYCLES    = 10
	DEFAULT_SAFETY_CYCLES = 50
	DEFAULT_SOLVE_BUDGET  = 3 * time.Minute
)

// Page signals the engine works with
var (
	ActionControls = []browser.Locator{
		browser.WithText("button", "(?i)click here to claim|complete the captcha"),
		browser.CSS(".btn-success"),
	}

	ChallengeSignals = []browser.Locator{
		browser.CSS("iframe[src*='hcaptcha.com']"),
		browser.CSS(".h-captcha, .g-recaptcha, .cf-turnstile"),
		browser.WithText("body", "(?i)complete the captcha"),
	}

	InterstitialControls = []browser.Locator{
		browser.WithText("button", `^\s*X\s*$`),
		browser.CSS(".close"),
	}

	ConfirmControl = browser.WithText("button", `^\s*OK\s*$`)

	PageBody = browser.CSS("body")
)

// Delays are fixed settle waits. The site gives no observable signal for
// these transitions, so they are waited out rather than polled.
type Delays struct {
	PageSettle      time.Duration
	ChallengeSettle time.Duration
	InjectionSettle time.Duration
	ClickSettle     time.Duration
	Progress        time.Duration
	CycleSettle     time.Duration
}

// Timeouts bound single element waits.
type Timeouts struct {
	Action       time.Duration
	Interstitial time.Duration
	Confirm      time.Duration
}

// DefaultDelays as observed on the live site.
func DefaultDelays() Delays {
	return Delays{
		PageSettle:      5 * time.Second,
		ChallengeSettle: 2 * time.Second,
		InjectionSettle: 2 * time.Second,
		ClickSettle:     2 * time.Second,
		Progress:        20 * time.Second,
		CycleSettle:     3 * time.Second,
	}
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Action:       5 * time.Second,
		Interstitial: 3 * time.Second,
		Confirm:      5 * time.Second,
	}
}

type Options struct {
	RootURL   string
	TargetURL string

	// Zero means unbounded, SafetyCycles still applies
	MaxCycles    int
	SafetyCycles int

	// Whole chain bound per cycle
	SolveBudget time.Duration

	CooldownPhrases []string

	Delays   Delays
	Timeouts Timeouts
}

// ChallengeExtractor reads challenge parameters from the page.
type ChallengeExtractor interface {
	Extract(ctx context.Context, page browser.Page) captcha.Challenge
}

// Resolver turns challenge parameters into a token.
type Resolver interface {
	Solve(ctx context.Context, challenge captcha.Challenge, prx proxy.Proxy, budget time.Duration) (captcha.Result, error)
}

// Engine runs claim cycles against one page until cooldown, the cycle bound or an abort.
// It owns the page for the whole run.
type Engine struct {
	page        browser.Page
	session     Session
	auth        *Authenticator
	extractor   ChallengeExtractor
	resolver    Resolver
	diagnostics Diagnostics
	opts        Options
	logger      *zap.Logger
}

func NewEngine(page browser.Page, session Session, auth *Authenticator, extractor ChallengeExtractor, resolver Resolver, diagnostics Diagnostics, opts Options, logger *zap.Logger) *Engine {
	if diagnostics == nil {
		diagnostics = NopDiagnostics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SafetyCycles <= 0 {
		opts.SafetyCycles = DEFAULT_SAFETY_CYCLES
	}
	if opts.SolveBudget <= 0 {
		opts.SolveBudget = DEFAULT_SOLVE_BUDGET
	}
	if len(opts.CooldownPhrases) == 0 {
		opts.CooldownPhrases = DEFAULT_COOLDOWN_PHRASES
	}

	return &Engine{
		page:        page,
		session:     session,
		auth:        auth,
		extractor:   extractor,
		resolver:    resolver,
		diagnostics: diagnostics,
		opts:        opts,
		logger:      logger,
	}
}

// Run authenticates once, opens the workflow page and loops cycles.
// The report always carries a terminal outcome.
func (e *Engine) Run(ctx context.Context) Report {
	report := Report{Proxy: e.session.Proxy}

	if err := e.auth.Authenticate(ctx, e.session, e.opts.RootURL); err != nil {
		report.Outcome = e.abort(ctx, 0, StageAuth, ReasonAuthFailed, err)
		return report
	}

	if outcome, ok := e.openTarget(ctx); !ok {
		report.Outcome = outcome
		return report
	}

	limit, reason := e.cycleLimit()
	for cycle := 1; ; cycle++ {
		if cycle > limit {
			report.Outcome = Outcome{Kind: TerminalSuccess, Reason: reason}
			break
		}

		log := e.logger.With(zap.Int("cycle", cycle))
		log.Info("Cycle started", zap.Int("completed", report.Cycles))

		outcome := e.runCycle(ctx, cycle, log)
		if outcome.Terminal() {
			report.Outcome = outcome
			break
		}
		report.Cycles++
		log.Info("Cycle completed", zap.Int("completed", report.Cycles))
	}

	e.logger.Info("Run finished",
		zap.Stringer("kind", report.Outcome.Kind),
		zap.String("reason", report.Outcome.Reason),
		zap.Int("cycles", report.Cycles),
	)
	return report
}

func (e *Engine) cycleLimit() (int, string) {
	if e.opts.MaxCycles > 0 && e.opts.MaxCycles <= e.opts.SafetyCycles {
		return e.opts.MaxCycles, ReasonCycleLimit
	}
	return e.opts.SafetyCycles, ReasonSafetyLimit
}

func (e *Engine) openTarget(ctx context.Context) (Outcome, bool) {
	status, err := e.page.Navigate(ctx, e.opts.TargetURL, browser.WaitDOMContentLoaded)
	if err == nil && status >= 400 {
		err = fmt.Errorf("status %d", status)
	}
	if err != nil {
		return e.abort(ctx, 0, StageNavigate, ReasonTargetUnreachable, err), false
	}

	if err := e.settle(ctx, e.opts.Delays.PageSettle); err != nil {
		return e.abort(ctx, 0, StageNavigate, ReasonInterrupted, err), false
	}
	e.diagnostics.Checkpoint(ctx, e.page, 0, StageNavigate)
	return Outcome{}, true
}

// runCycle walks one cycle: cooldown, challenge, action, progress, completion.
func (e *Engine) runCycle(ctx context.Context, cycle int, log *zap.Logger) Outcome {
	if e.cooldown(ctx) {
		log.Info("Cooldown detected, quota is used up")
		e.diagnostics.Checkpoint(ctx, e.page, cycle, StageCooldown)
		return Outcome{Kind: TerminalSuccess, Cooldown: true, Reason: ReasonCooldown, Stage: StageCooldown}
	}

	if err := e.settle(ctx, e.opts.Delays.ChallengeSettle); err != nil {
		return e.abort(ctx, cycle, StageChallenge, ReasonInterrupted, err)
	}

	if e.challengePresent(ctx, log) {
		if outcome := e.solveChallenge(ctx, cycle, log); outcome.Terminal() {
			return outcome
		}
	} else {
		log.Info("No challenge, going straight to action")
	}

	if outcome := e.trigger(ctx, cycle, log); outcome.Terminal() {
		return outcome
	}

	log.Info("Waiting for progress", zap.Duration("delay", e.opts.Delays.Progress))
	if err := e.settle(ctx, e.opts.Delays.Progress); err != nil {
		return e.abort(ctx, cycle, StageProgress, ReasonInterrupted, err)
	}
	e.diagnostics.Checkpoint(ctx, e.page, cycle, StageProgress)

	err := e.page.Click(ctx, ConfirmControl, browser.ClickOptions{Timeout: e.opts.Timeouts.Confirm})
	if err != nil {
		return e.abort(ctx, cycle, StageCompletion, ReasonCompletionMissing, err)
	}

	if err := e.settle(ctx, e.opts.Delays.CycleSettle); err != nil {
		return e.abort(ctx, cycle, StageCompletion, ReasonInterrupted, err)
	}
	return Outcome{Kind: Continue}
}

// cooldown checks the action control label and the page text.
// Unreadable elements count as no signal.
func (e *Engine) cooldown(ctx context.Context) bool {
	if _, label, ok := e.actionControl(ctx); ok && IsCooldown(label, e.opts.CooldownPhrases) {
		return true
	}

	body, err := e.page.Text(ctx, PageBody)
	if err != nil {
		e.logger.Debug("Page text unreadable", zap.Error(err))
		return false
	}
	return IsCooldown(body, e.opts.CooldownPhrases)
}

// challengePresent is true if any independent signal is seen.
func (e *Engine) challengePresent(ctx context.Context, log *zap.Logger) bool {
	for _, signal := range ChallengeSignals {
		n, err := e.page.Count(ctx, signal)
		if err != nil {
			log.Debug("Challenge signal unreadable", zap.Stringer("signal", signal), zap.Error(err))
			continue
		}
		if n > 0 {
			log.Info("Challenge detected", zap.Stringer("signal", signal))
			return true
		}
	}
	return false
}

func (e *Engine) solveChallenge(ctx context.Context, cycle int, log *zap.Logger) Outcome {
	e.diagnostics.Checkpoint(ctx, e.page, cycle, StageChallenge)

	challenge := e.extractor.Extract(ctx, e.page)
	log.Info("Challenge parameters",
		zap.Stringer("kind", challenge.Kind),
		zap.String("widget", string(challenge.Widget)),
		zap.String("site_key", challenge.SiteKey),
	)

	result, err := e.resolver.Solve(ctx, challenge, e.session.Proxy, e.opts.SolveBudget)
	if errors.Is(err, captcha.ErrNoProviders) {
		return e.abort(ctx, cycle, StageSolve, ReasonNoProviders, err)
	}
	if err != nil {
		return e.abort(ctx, cycle, StageSolve, ReasonChallengeUnsolved, err)
	}
	log.Info("Token received", zap.String("provider", result.Provider))

	filled, err := e.page.Evaluate(ctx, injectScript, result.Token)
	if err != nil {
		return e.abort(ctx, cycle, StageInject, ReasonInjectionFailed, err)
	}
	log.Debug("Token injected", zap.String("fields", filled))

	if err := e.settle(ctx, e.opts.Delays.InjectionSettle); err != nil {
		return e.abort(ctx, cycle, StageInject, ReasonInterrupted, err)
	}
	e.diagnostics.Checkpoint(ctx, e.page, cycle, StageInject)
	return Outcome{Kind: Continue}
}

// trigger clicks the action control unless it is disabled, then closes an optional interstitial.
func (e *Engine) trigger(ctx context.Context, cycle int, log *zap.Logger) Outcome {
	control, label, ok := e.actionControl(ctx)
	if !ok {
		return e.abort(ctx, cycle, StageAction, ReasonControlNotFound, browser.ErrElementNotFound)
	}

	disabled, err := e.page.Disabled(ctx, control)
	if err != nil {
		return e.abort(ctx, cycle, StageAction, ReasonControlNotFound, err)
	}
	if disabled {
		reason := ReasonGateNotCleared
		if label != "" {
			reason = fmt.Sprintf("%s (label %q)", reason, label)
		}
		return e.abort(ctx, cycle, StageAction, reason, nil)
	}

	log.Info("Clicking action control", zap.String("label", label))
	if err := e.page.Click(ctx, control, browser.ClickOptions{Timeout: e.opts.Timeouts.Action}); err != nil {
		return e.abort(ctx, cycle, StageAction, ReasonActionFailed, err)
	}

	if err := e.settle(ctx, e.opts.Delays.ClickSettle); err != nil {
		return e.abort(ctx, cycle, StageAction, ReasonInterrupted, err)
	}
	e.diagnostics.Checkpoint(ctx, e.page, cycle, StageAction)

	e.dismissInterstitial(ctx, log)
	return Outcome{Kind: Continue}
}

// actionControl finds the first present action locator and its label.
func (e *Engine) actionControl(ctx context.Context) (browser.Locator, string, bool) {
	for _, loc := range ActionControls {
		n, err := e.page.Count(ctx, loc)
		if err != nil || n == 0 {
			continue
		}
		label, err := e.page.Text(ctx, loc)
		if err != nil {
			e.logger.Debug("Action control label unreadable", zap.Error(err))
		}
		return loc, label, true
	}
	return browser.Locator{}, "", false
}

// dismissInterstitial is best effort, absence is not a failure.
// The close click is forced.
func (e *Engine) dismissInterstitial(ctx context.Context, log *zap.Logger) {
	timeout := e.opts.Timeouts.Interstitial
	for _, loc := range InterstitialControls {
		err := e.page.Click(ctx, loc, browser.ClickOptions{Force: true, Timeout: timeout})
		if err == nil {
			log.Info("Interstitial closed", zap.Stringer("control", loc))
			return
		}
		// the wait is spent on the first control only
		timeout = 0
	}
	log.Debug("No interstitial")
}

func (e *Engine) abort(ctx context.Context, cycle int, stage Stage, reason string, err error) Outcome {
	if ctx.Err() != nil {
		reason = ReasonInterrupted
	}
	outcome := Outcome{Kind: Abort, Reason: reason, Stage: stage, Err: err}

	e.logger.Error("Run aborted",
		zap.Int("cycle", cycle),
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	e.diagnostics.Capture(context.WithoutCancel(ctx), e.page, cycle, stage)
	return outcome
}

// settle waits out a fixed delay unless ctx ends first.
func (e *Engine) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

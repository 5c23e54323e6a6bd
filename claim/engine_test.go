package claim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CbIPOKGIT/claimer/browser"
	"github.com/CbIPOKGIT/claimer/browser/browsertest"
	"github.com/CbIPOKGIT/claimer/captcha"
	"github.com/CbIPOKGIT/claimer/proxy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	rootURL   = "https://bot-hosting.net/"
	targetURL = "https://bot-hosting.net/panel/earn"
)

// site scripts a claim page: clicking the action shows the confirm button,
// confirming counts a cycle. After cooldownAfter cycles the page reports cooldown.
// With interstitial set the action click also opens an ad overlay.
type site struct {
	page          *browsertest.Page
	cooldownAfter int
	noConfirm     bool
	interstitial  bool

	mu        sync.Mutex
	confirmed int
	injected  []string
}

func newSite() *site {
	s := &site{page: browsertest.New()}
	s.page.Set(PageBody, "Earn coins")
	s.page.Set(ActionControls[0], "Click here to claim")

	s.page.OnEval = func(p *browsertest.Page, script string, args []any) (string, error) {
		switch script {
		case storeScript:
			return "1", nil
		case injectScript:
			s.mu.Lock()
			s.injected = append(s.injected, args[0].(string))
			s.mu.Unlock()
			return "1", nil
		}
		return "", nil
	}

	s.page.OnClick = func(p *browsertest.Page, loc browser.Locator) {
		switch loc {
		case ActionControls[0]:
			if !s.noConfirm {
				p.Set(ConfirmControl, "OK")
			}
			if s.interstitial {
				p.Set(InterstitialControls[0], "X")
			}
		case InterstitialControls[0]:
			p.Remove(InterstitialControls[0])
		case ConfirmControl:
			p.Remove(ConfirmControl)
			s.mu.Lock()
			s.confirmed++
			done := s.cooldownAfter > 0 && s.confirmed >= s.cooldownAfter
			s.mu.Unlock()
			if done {
				p.Set(PageBody, "You are on cooldown!")
				p.Set(ActionControls[0], "You are on cooldown!")
			}
		}
	}
	return s
}

func (s *site) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.injected...)
}

// recorder counts diagnostic requests.
type recorder struct {
	mu          sync.Mutex
	captures    []Stage
	checkpoints []Stage
}

func (r *recorder) Capture(ctx context.Context, page browser.Page, cycle int, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, stage)
}

func (r *recorder) Checkpoint(ctx context.Context, page browser.Page, cycle int, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, stage)
}

func (r *recorder) captured() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.captures...)
}

type stubSolver struct {
	name  string
	token string
	err   error
	calls int
}

func (s *stubSolver) Name() string {
	return s.name
}

func (s *stubSolver) Solve(ctx context.Context, challenge captcha.Challenge, prx proxy.Proxy) (string, error) {
	s.calls++
	return s.token, s.err
}

type countingResolver struct {
	calls int
}

func (r *countingResolver) Solve(ctx context.Context, challenge captcha.Challenge, prx proxy.Proxy, budget time.Duration) (captcha.Result, error) {
	r.calls++
	return captcha.Result{Token: "unused", Provider: "counting"}, nil
}

func testOptions() Options {
	return Options{
		RootURL:   rootURL,
		TargetURL: targetURL,
		MaxCycles: 10,
		Timeouts:  Timeouts{},
		Delays:    Delays{},
	}
}

func newTestEngine(page browser.Page, resolver Resolver, diagnostics Diagnostics, opts Options) *Engine {
	return NewEngine(
		page,
		Session{AuthToken: "secret"},
		NewAuthenticator(page, "", nil),
		captcha.NewExtractor("", nil),
		resolver,
		diagnostics,
		opts,
		nil,
	)
}

func TestRunStopsOnCooldownAtThirdCycle(t *testing.T) {
	s := newSite()
	s.cooldownAfter = 2
	diag := &recorder{}

	report := newTestEngine(s.page, &countingResolver{}, diag, testOptions()).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.True(t, report.Outcome.Cooldown)
	assert.Equal(t, 2, report.Cycles)
	assert.Empty(t, diag.captured())
	assert.Equal(t, []string{rootURL, targetURL}, s.page.Navigations)
	assert.Equal(t, 2, s.page.ClickCount(ActionControls[0]), "no action once cooldown is seen")
}

func TestRunSolvesChallengeWithSecondProvider(t *testing.T) {
	s := newSite()
	s.cooldownAfter = 1
	s.page.Set(ChallengeSignals[0], "")

	first := &stubSolver{name: "agent", err: context.DeadlineExceeded}
	second := &stubSolver{name: "2captcha", token: "abc123"}
	chain := captcha.NewChain(nil, first, second)

	report := newTestEngine(s.page, chain, &recorder{}, testOptions()).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.Equal(t, 1, report.Cycles)
	assert.Equal(t, []string{"abc123"}, s.tokens())
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, s.page.ClickCount(ActionControls[0]))
}

func TestRunAbortsWhenControlStaysDisabled(t *testing.T) {
	s := newSite()
	s.page.Set(ChallengeSignals[0], "")
	s.page.Set(ActionControls[0], "Complete the captcha")
	s.page.SetDisabled(ActionControls[0], true)
	diag := &recorder{}

	chain := captcha.NewChain(nil, &stubSolver{name: "2captcha", token: "abc123"})
	report := newTestEngine(s.page, chain, diag, testOptions()).Run(context.Background())

	assert.Equal(t, Abort, report.Outcome.Kind)
	assert.Contains(t, report.Outcome.Reason, ReasonGateNotCleared)
	assert.Contains(t, report.Outcome.Reason, "Complete the captcha")
	assert.Equal(t, StageAction, report.Outcome.Stage)
	assert.Equal(t, []Stage{StageAction}, diag.captured())
	assert.Zero(t, s.page.ClickCount(ActionControls[0]))
	assert.Zero(t, report.Cycles)
}

func TestRunAbortWritesOneScreenshot(t *testing.T) {
	s := newSite()
	s.page.SetDisabled(ActionControls[0], true)
	sink := NewFileSink(t.TempDir(), true, time.Second, false, nil)

	report := newTestEngine(s.page, &countingResolver{}, sink, testOptions()).Run(context.Background())

	require.Equal(t, Abort, report.Outcome.Kind)
	assert.Equal(t, 1, s.page.Screenshots)

	_, err := os.Stat(filepath.Join(sink.RunDir(), "cycle-01-action.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(sink.RunDir(), "cycle-01-action.html"))
	assert.NoError(t, err)
}

func TestRunWithoutChallengeSkipsSolving(t *testing.T) {
	s := newSite()
	s.cooldownAfter = 1
	resolver := &countingResolver{}

	report := newTestEngine(s.page, resolver, &recorder{}, testOptions()).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.Zero(t, resolver.calls)
	assert.Empty(t, s.tokens())
	assert.Equal(t, 1, s.page.ClickCount(ActionControls[0]))
}

func TestRunClosesInterstitial(t *testing.T) {
	s := newSite()
	s.cooldownAfter = 1
	s.interstitial = true
	diag := &recorder{}
	opts := testOptions()
	opts.Timeouts.Interstitial = 3 * time.Second

	report := newTestEngine(s.page, &countingResolver{}, diag, opts).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.Equal(t, 1, report.Cycles)
	assert.Equal(t, 1, s.page.ClickCount(InterstitialControls[0]))
	assert.Empty(t, s.page.AttemptsOn(InterstitialControls[1]), "first control closed it")
	assert.True(t, s.page.AttemptsOn(InterstitialControls[0])[0].Opts.Force)
	assert.False(t, s.page.AttemptsOn(ActionControls[0])[0].Opts.Force)
	assert.Empty(t, diag.captured())
}

func TestRunWithoutInterstitialWaitsOnFirstControlOnly(t *testing.T) {
	s := newSite()
	s.cooldownAfter = 1
	diag := &recorder{}
	opts := testOptions()
	opts.Timeouts.Interstitial = 3 * time.Second

	report := newTestEngine(s.page, &countingResolver{}, diag, opts).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.Equal(t, 1, report.Cycles)
	assert.Empty(t, diag.captured())

	first := s.page.AttemptsOn(InterstitialControls[0])
	require.Len(t, first, 1)
	assert.Equal(t, 3*time.Second, first[0].Opts.Timeout)

	second := s.page.AttemptsOn(InterstitialControls[1])
	require.Len(t, second, 1)
	assert.Zero(t, second[0].Opts.Timeout)
}

func TestRunAbortsWhenCompletionNotConfirmed(t *testing.T) {
	s := newSite()
	s.noConfirm = true
	diag := &recorder{}

	report := newTestEngine(s.page, &countingResolver{}, diag, testOptions()).Run(context.Background())

	assert.Equal(t, Abort, report.Outcome.Kind)
	assert.Equal(t, ReasonCompletionMissing, report.Outcome.Reason)
	assert.ErrorIs(t, report.Outcome.Err, browser.ErrElementNotFound)
	assert.Zero(t, report.Cycles)
	assert.Equal(t, []Stage{StageCompletion}, diag.captured())
}

func TestRunAbortsWhenChainIsExhausted(t *testing.T) {
	s := newSite()
	s.page.Set(ChallengeSignals[1], "")
	chain := captcha.NewChain(nil,
		&stubSolver{name: "nopecha", err: errors.New("unreachable")},
		&stubSolver{name: "2captcha", err: &captcha.SolveError{Provider: "2captcha", Reason: "poll budget exhausted after 24 attempts"}},
	)

	report := newTestEngine(s.page, chain, &recorder{}, testOptions()).Run(context.Background())

	assert.Equal(t, Abort, report.Outcome.Kind)
	assert.Equal(t, ReasonChallengeUnsolved, report.Outcome.Reason)
	var se *captcha.SolveError
	require.ErrorAs(t, report.Outcome.Err, &se)
	assert.Equal(t, "2captcha", se.Provider)
	assert.Zero(t, s.page.ClickCount(ActionControls[0]))
}

func TestRunAbortsWithoutProviders(t *testing.T) {
	s := newSite()
	s.page.Set(ChallengeSignals[2], "Complete the captcha")

	report := newTestEngine(s.page, captcha.NewChain(nil), &recorder{}, testOptions()).Run(context.Background())

	assert.Equal(t, Abort, report.Outcome.Kind)
	assert.Equal(t, ReasonNoProviders, report.Outcome.Reason)
}

func TestRunStopsAtMaxCycles(t *testing.T) {
	s := newSite()
	opts := testOptions()
	opts.MaxCycles = 3

	report := newTestEngine(s.page, &countingResolver{}, &recorder{}, opts).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.False(t, report.Outcome.Cooldown)
	assert.Equal(t, ReasonCycleLimit, report.Outcome.Reason)
	assert.Equal(t, 3, report.Cycles)
}

func TestRunUnboundedUsesSafetyLimit(t *testing.T) {
	s := newSite()
	opts := testOptions()
	opts.MaxCycles = 0
	opts.SafetyCycles = 4

	report := newTestEngine(s.page, &countingResolver{}, &recorder{}, opts).Run(context.Background())

	assert.Equal(t, TerminalSuccess, report.Outcome.Kind)
	assert.Equal(t, ReasonSafetyLimit, report.Outcome.Reason)
	assert.Equal(t, 4, report.Cycles)
}

func TestRunAbortsWhenAuthFails(t *testing.T) {
	s := newSite()
	s.page.NavigateErr[rootURL] = errors.New("net::ERR_CONNECTION_RESET")
	diag := &recorder{}

	report := newTestEngine(s.page, &countingResolver{}, diag, testOptions()).Run(context.Background())

	assert.Equal(t, Abort, report.Outcome.Kind)
	assert.Equal(t, ReasonAuthFailed, report.Outcome.Reason)
	var authErr *AuthInjectionError
	assert.ErrorAs(t, report.Outcome.Err, &authErr)
	assert.Equal(t, []Stage{StageAuth}, diag.captured())
	assert.Equal(t, []string{rootURL}, s.page.Navigations, "target must not be opened without credential")
}

func TestRunAbortsWhenTargetUnreachable(t *testing.T) {
	s := newSite()
	s.page.NavigateErr[targetURL] = errors.New("timeout")

	report := newTestEngine(s.page, &countingResolver{}, &recorder{}, testOptions()).Run(context.Background())

	assert.Equal(t, ReasonTargetUnreachable, report.Outcome.Reason)
	assert.Equal(t, StageNavigate, report.Outcome.Stage)
}

func TestRunInterrupted(t *testing.T) {
	s := newSite()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	diag := &recorder{}

	report := newTestEngine(s.page, &countingResolver{}, diag, testOptions()).Run(ctx)

	assert.Equal(t, Abort, report.Outcome.Kind)
	assert.Equal(t, ReasonInterrupted, report.Outcome.Reason)
	assert.Len(t, diag.captured(), 1)
}

func TestAuthenticateWritesTokenAtRoot(t *testing.T) {
	s := newSite()

	err := NewAuthenticator(s.page, "token", nil).Authenticate(context.Background(), Session{AuthToken: "secret"}, rootURL)

	require.NoError(t, err)
	require.Len(t, s.page.Evals, 1)
	assert.Equal(t, []any{"token", "secret"}, s.page.Evals[0].Args)
	assert.Equal(t, []string{rootURL}, s.page.Navigations)
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	err := NewAuthenticator(browsertest.New(), "", nil).Authenticate(context.Background(), Session{}, rootURL)
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestAuthenticateDetectsUnpersistedToken(t *testing.T) {
	page := browsertest.New()
	page.OnEval = func(p *browsertest.Page, script string, args []any) (string, error) {
		return "0", nil
	}

	err := NewAuthenticator(page, "", nil).Authenticate(context.Background(), Session{AuthToken: "secret"}, rootURL)

	var authErr *AuthInjectionError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, rootURL, authErr.RootURL)
}

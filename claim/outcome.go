package claim

import (
	"fmt"

	"github.com/CbIPOKGIT/claimer/proxy"
)

// Kind of a cycle outcome.
type Kind int

const (
	Continue Kind = iota
	TerminalSuccess
	Abort
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case TerminalSuccess:
		return "success"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stage of the cycle an outcome was produced in. Used to tag diagnostics.
type Stage string

const (
	StageAuth       Stage = "auth"
	StageNavigate   Stage = "navigate"
	StageCooldown   Stage = "cooldown"
	StageChallenge  Stage = "challenge"
	StageSolve      Stage = "solve"
	StageInject     Stage = "inject"
	StageAction     Stage = "action"
	StageProgress   Stage = "progress"
	StageCompletion Stage = "completion"
)

// Abort and stop reasons
const (
	ReasonCooldown          = "cooldown reached"
	ReasonCycleLimit        = "cycle limit reached"
	ReasonSafetyLimit       = "safety cycle limit reached"
	ReasonAuthFailed        = "authentication failed"
	ReasonTargetUnreachable = "target unreachable"
	ReasonChallengeUnsolved = "challenge unsolved"
	ReasonNoProviders       = "no captcha providers configured"
	ReasonInjectionFailed   = "token injection failed"
	ReasonControlNotFound   = "action control not found"
	ReasonGateNotCleared    = "challenge gate not cleared, action control disabled"
	ReasonActionFailed      = "action control click failed"
	ReasonCompletionMissing = "completion not confirmed"
	ReasonInterrupted       = "interrupted"
)

// Outcome of one cycle, or of the whole run once terminal.
type Outcome struct {
	Kind Kind

	// Success because the quota for today is used up
	Cooldown bool

	Reason string
	Stage  Stage
	Err    error
}

func (o Outcome) Terminal() bool {
	return o.Kind != Continue
}

func (o Outcome) String() string {
	switch {
	case o.Kind == Continue:
		return "continue"
	case o.Err != nil:
		return fmt.Sprintf("%s: %s at %s: %v", o.Kind, o.Reason, o.Stage, o.Err)
	case o.Stage != "":
		return fmt.Sprintf("%s: %s at %s", o.Kind, o.Reason, o.Stage)
	default:
		return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
	}
}

// Report of a finished run.
type Report struct {
	Outcome Outcome

	// Completed and confirmed cycles
	Cycles int

	Proxy proxy.Proxy
}

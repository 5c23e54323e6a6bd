package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CbIPOKGIT/claimer/browser"
)

func TestIsCooldown(t *testing.T) {
	phrases := DEFAULT_COOLDOWN_PHRASES

	assert.True(t, IsCooldown("You are on cooldown!", phrases))
	assert.True(t, IsCooldown("  YOU ARE ON COOLDOWN  ", phrases))
	assert.False(t, IsCooldown("Click here to claim", phrases))
	assert.False(t, IsCooldown("", phrases))
	assert.False(t, IsCooldown("anything", []string{"", "  "}))
}

func TestIsCooldownIsStable(t *testing.T) {
	label := "You are on cooldown!"
	for i := 0; i < 3; i++ {
		assert.True(t, IsCooldown(label, DEFAULT_COOLDOWN_PHRASES))
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "continue", Outcome{}.String())
	assert.Equal(t, "success: cooldown reached at cooldown",
		Outcome{Kind: TerminalSuccess, Reason: ReasonCooldown, Stage: StageCooldown}.String())
	assert.Equal(t, "abort: completion not confirmed at completion: element not found",
		Outcome{Kind: Abort, Reason: ReasonCompletionMissing, Stage: StageCompletion, Err: browser.ErrElementNotFound}.String())
}

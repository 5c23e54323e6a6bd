package claim

import "strings"

// DEFAULT_COOLDOWN_PHRASES mark an exhausted daily quota.
var DEFAULT_COOLDOWN_PHRASES = []string{"you are on cooldown"}

// IsCooldown reports whether text signals an exhausted quota.
// The match is a case-insensitive substring search against every phrase.
func IsCooldown(text string, phrases []string) bool {
	text = strings.ToLower(text)
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" && strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

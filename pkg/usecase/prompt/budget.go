package prompt

import (
	"math"
	"unicode/utf8"

	"github.com/m-mizutani/llmchat/pkg/model"
)

// SafetyBuffer is the number of tokens always held back from the history
// budget. It is also the smallest gap worth truncating a message into.
const SafetyBuffer = 200

// tokenOverhead approximates the cost of special tokens on top of the
// character ratio
const tokenOverhead = 1.1

// EstimateTokens estimates the token count of text for provider. It is a
// character ratio heuristic, not a tokenizer. The result never decreases as
// text grows.
func EstimateTokens(text string, provider model.Provider) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * tokenOverhead / provider.CharsPerToken()))
}

// charsForTokens is the inverse of EstimateTokens: the largest rune count
// whose estimate should stay within tokens
func charsForTokens(tokens int, provider model.Provider) int {
	if tokens <= 0 {
		return 0
	}
	return int(math.Floor(float64(tokens) * provider.CharsPerToken() / tokenOverhead))
}

// Budget is the token accounting of one assembly call
type Budget struct {
	Provider            model.Provider
	ProviderLimit       int
	UserLimit           int
	EffectiveLimit      int
	SystemTokens        int
	UserTokens          int
	RemainingForHistory int
	HistoryTokens       int
	IncludedMessages    int
	Truncated           bool
}

// NewBudget resolves the effective limit. A non-positive userLimit means the
// provider limit applies as is.
func NewBudget(provider model.Provider, userLimit int) *Budget {
	providerLimit := provider.HardLimit()
	effective := providerLimit
	if userLimit > 0 && userLimit < providerLimit {
		effective = userLimit
	}
	return &Budget{
		Provider:       provider,
		ProviderLimit:  providerLimit,
		UserLimit:      userLimit,
		EffectiveLimit: effective,
	}
}

// reserve records the fixed system and user costs and computes what is left
// for history, clamped at zero
func (b *Budget) reserve(systemTokens, userTokens int) {
	b.SystemTokens = systemTokens
	b.UserTokens = userTokens
	b.RemainingForHistory = max(b.EffectiveLimit-systemTokens-userTokens-SafetyBuffer, 0)
}

// Total is the estimated size of the assembled prompt
func (b *Budget) Total() int {
	return b.SystemTokens + b.UserTokens + b.HistoryTokens
}

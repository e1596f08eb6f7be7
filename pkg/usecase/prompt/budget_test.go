package prompt_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/usecase/prompt"
)

func TestEstimateTokens(t *testing.T) {
	testCases := map[string]struct {
		text     string
		provider model.Provider
		expected int
	}{
		"empty":            {"", model.ProviderOpenAI, 0},
		"openai":           {strings.Repeat("a", 31), model.ProviderOpenAI, 11},
		"anthropic":        {strings.Repeat("a", 36), model.ProviderAnthropic, 12},
		"ollama round up":  {"a", model.ProviderOllama, 1},
		"counts runes":     {strings.Repeat("あ", 41), model.ProviderLlama, 12},
		"unknown provider": {strings.Repeat("a", 41), model.Provider("other"), 12},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			gt.Equal(t, prompt.EstimateTokens(tc.text, tc.provider), tc.expected)
		})
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	for _, p := range model.Providers() {
		prev := 0
		for n := 0; n < 2000; n++ {
			got := prompt.EstimateTokens(strings.Repeat("x", n), p)
			gt.True(t, got >= prev)
			prev = got
		}
	}
}

func TestNewBudget(t *testing.T) {
	t.Run("provider limit caps user limit", func(t *testing.T) {
		b := prompt.NewBudget(model.ProviderAnthropic, 200000)
		gt.Equal(t, b.EffectiveLimit, 100000)
		gt.Equal(t, b.ProviderLimit, 100000)
	})

	t.Run("user limit below provider", func(t *testing.T) {
		b := prompt.NewBudget(model.ProviderOpenAI, 4000)
		gt.Equal(t, b.EffectiveLimit, 4000)
	})

	t.Run("unset user limit", func(t *testing.T) {
		b := prompt.NewBudget(model.ProviderGemini, 0)
		gt.Equal(t, b.EffectiveLimit, 30000)
	})
}

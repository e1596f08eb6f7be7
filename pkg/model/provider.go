package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Provider identifies a model provider family
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderLlama     Provider = "llama"
)

var ErrUnknownProvider = goerr.New("unknown provider")

// providerSpec holds the fixed per-provider constants used for token budgeting.
// Limits are conservative context ceilings, not the providers' published maximums.
type providerSpec struct {
	charsPerToken float64
	hardLimit     int
	singlePrompt  bool
}

var providerSpecs = map[Provider]providerSpec{
	ProviderOpenAI:    {charsPerToken: 3.3, hardLimit: 8000, singlePrompt: false},
	ProviderAnthropic: {charsPerToken: 3.5, hardLimit: 100000, singlePrompt: true},
	ProviderGemini:    {charsPerToken: 3.8, hardLimit: 30000, singlePrompt: true},
	ProviderOllama:    {charsPerToken: 4.0, hardLimit: 4000, singlePrompt: true},
	ProviderLlama:     {charsPerToken: 4.0, hardLimit: 4000, singlePrompt: true},
}

const (
	defaultCharsPerToken = 4.0
	defaultHardLimit     = 4000
)

// ParseProvider converts a provider name to Provider
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := providerSpecs[p]; !ok {
		return "", goerr.Wrap(ErrUnknownProvider, "invalid provider name", goerr.V("name", name))
	}
	return p, nil
}

// Providers returns all supported providers
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama, ProviderLlama}
}

// CharsPerToken returns the estimated characters per token. Unknown providers
// get the conservative default.
func (p Provider) CharsPerToken() float64 {
	if spec, ok := providerSpecs[p]; ok {
		return spec.charsPerToken
	}
	return defaultCharsPerToken
}

// HardLimit returns the provider's context ceiling in tokens
func (p Provider) HardLimit() int {
	if spec, ok := providerSpecs[p]; ok {
		return spec.hardLimit
	}
	return defaultHardLimit
}

// SinglePrompt reports whether the provider receives one collapsed prompt
// string instead of a structured message list.
func (p Provider) SinglePrompt() bool {
	if spec, ok := providerSpecs[p]; ok {
		return spec.singlePrompt
	}
	return true
}

func (p Provider) String() string {
	return string(p)
}

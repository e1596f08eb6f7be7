package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
)

// LLM completes a provider-shaped prompt
type LLM interface {
	Complete(ctx context.Context, req *model.ProviderRequest) (string, error)
}

// LLMConfig selects and configures a provider client
type LLMConfig struct {
	Provider model.Provider
	Model    string
	APIKey   string
	// BaseURL is the server address for ollama and llama.cpp, or an
	// OpenAI-compatible endpoint for openai
	BaseURL string
	// GCP settings for Gemini on Vertex AI, used when APIKey is empty
	GeminiProject  string
	GeminiLocation string
	MaxTokens      int
}

// NewLLM creates the client for cfg.Provider
func NewLLM(ctx context.Context, cfg *LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case model.ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, goerr.New("openai requires an API key")
		}
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case model.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, goerr.New("anthropic requires an API key")
		}
		return NewClaude(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil

	case model.ProviderGemini:
		var opts []GeminiOption
		if cfg.Model != "" {
			opts = append(opts, WithGenerativeModel(cfg.Model))
		}
		var client *GeminiClient
		var err error
		switch {
		case cfg.APIKey != "":
			client, err = NewGeminiWithAPIKey(ctx, cfg.APIKey, opts...)
		case cfg.GeminiProject != "":
			client, err = NewGemini(ctx, cfg.GeminiProject, cfg.GeminiLocation, opts...)
		default:
			return nil, goerr.New("gemini requires an API key or a GCP project")
		}
		if err != nil {
			return nil, err
		}
		return client, nil

	case model.ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model)

	case model.ProviderLlama:
		return NewLlama(cfg.BaseURL, cfg.MaxTokens), nil

	default:
		return nil, goerr.Wrap(model.ErrUnknownProvider, "no client for provider", goerr.V("provider", cfg.Provider))
	}
}

// promptText flattens a request into one prompt for clients that only take
// a single string
func promptText(req *model.ProviderRequest) string {
	if req.Prompt != "" || len(req.Messages) == 0 {
		return req.Prompt
	}

	var b strings.Builder
	for i, msg := range req.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case model.RoleSystem:
			b.WriteString(msg.Content)
		case model.RoleAssistant:
			b.WriteString("Assistant: " + msg.Content)
		default:
			b.WriteString("User: " + msg.Content)
		}
	}
	b.WriteString("\n\nAssistant:")
	return b.String()
}

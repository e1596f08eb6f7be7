package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "llama3.2"
)

// ollamaClient implements LLM with the Ollama generate endpoint
type ollamaClient struct {
	client *api.Client
	model  string
}

func NewOllama(baseURL, modelName string) (LLM, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if modelName == "" {
		modelName = defaultOllamaModel
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama url", goerr.V("url", baseURL))
	}

	return &ollamaClient{
		client: api.NewClient(parsed, &http.Client{Timeout: 10 * time.Minute}),
		model:  modelName,
	}, nil
}

func (c *ollamaClient) Complete(ctx context.Context, req *model.ProviderRequest) (string, error) {
	stream := false
	genReq := &api.GenerateRequest{
		Model:  c.model,
		Prompt: promptText(req),
		Stream: &stream,
	}

	var b strings.Builder
	err := c.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to call ollama", goerr.V("model", c.model))
	}
	return b.String(), nil
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
)

const (
	defaultLlamaURL       = "http://127.0.0.1:8080"
	defaultLlamaMaxTokens = 1024
)

// llamaClient implements LLM against a llama.cpp server /completion endpoint
type llamaClient struct {
	baseURL   string
	maxTokens int
	client    *http.Client
}

func NewLlama(baseURL string, maxTokens int) LLM {
	if baseURL == "" {
		baseURL = defaultLlamaURL
	}
	if maxTokens <= 0 {
		maxTokens = defaultLlamaMaxTokens
	}
	return &llamaClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 10 * time.Minute},
	}
}

type llamaRequest struct {
	Prompt   string   `json:"prompt"`
	NPredict int      `json:"n_predict"`
	Stop     []string `json:"stop"`
	Stream   bool     `json:"stream"`
}

type llamaResponse struct {
	Content string `json:"content"`
}

func (c *llamaClient) Complete(ctx context.Context, req *model.ProviderRequest) (string, error) {
	body, err := json.Marshal(llamaRequest{
		Prompt:   promptText(req),
		NPredict: c.maxTokens,
		Stop:     []string{"\nUser:", "\nHuman:"},
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal llama request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", goerr.Wrap(err, "failed to build llama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call llama server", goerr.V("url", c.baseURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", goerr.New("llama server returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)))
	}

	var out llamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", goerr.Wrap(err, "failed to decode llama response")
	}
	return strings.TrimSpace(out.Content), nil
}

package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
)

const (
	defaultClaudeModel     = "claude-3-5-sonnet-latest"
	defaultClaudeMaxTokens = 4096
)

// claudeClient implements LLM with the Anthropic Messages API
type claudeClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey, modelName string, maxTokens int) LLM {
	if modelName == "" {
		modelName = defaultClaudeModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	return &claudeClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     modelName,
		maxTokens: int64(maxTokens),
	}
}

func (c *claudeClient) Complete(ctx context.Context, req *model.ProviderRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	if req.Prompt != "" || len(req.Messages) == 0 {
		params.Messages = []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		}
	} else {
		for _, msg := range req.Messages {
			switch msg.Role {
			case model.RoleSystem:
				params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
			case model.RoleAssistant:
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			default:
				params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call claude", goerr.V("model", c.model))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

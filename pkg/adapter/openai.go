package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openAIClient implements LLM with the Chat Completions API. It sends
// structured messages since OpenAI is the one provider that takes them.
type openAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a client. A non-empty baseURL targets an
// OpenAI-compatible server.
func NewOpenAI(apiKey, modelName, baseURL string) LLM {
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIClient{
		client: openai.NewClient(opts...),
		model:  modelName,
	}
}

func (c *openAIClient) Complete(ctx context.Context, req *model.ProviderRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.Prompt != "" || len(req.Messages) == 0 {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to call openai", goerr.V("model", c.model))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("openai returned no choices", goerr.V("model", c.model))
	}
	return resp.Choices[0].Message.Content, nil
}

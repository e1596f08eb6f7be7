package prompt

import (
	"strings"

	"github.com/m-mizutani/llmchat/pkg/model"
)

// FormatForProvider shapes messages for provider. Providers with a chat API
// get the list unchanged. Single-prompt providers get the whole list collapsed
// into one string, history included, ending with an assistant cue.
func FormatForProvider(messages []model.ChatMessage, provider model.Provider) *model.ProviderRequest {
	if !provider.SinglePrompt() {
		copied := make([]model.ChatMessage, len(messages))
		copy(copied, messages)
		return &model.ProviderRequest{Provider: provider, Messages: copied}
	}

	userLabel := "User:"
	if provider == model.ProviderAnthropic {
		userLabel = "Human:"
	}

	var blocks []string
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			blocks = append(blocks, msg.Content)
		case model.RoleAssistant:
			blocks = append(blocks, "Assistant: "+msg.Content)
		default:
			blocks = append(blocks, userLabel+" "+msg.Content)
		}
	}
	blocks = append(blocks, "Assistant:")

	return &model.ProviderRequest{
		Provider: provider,
		Prompt:   strings.Join(blocks, "\n\n"),
	}
}

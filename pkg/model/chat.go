package model

// Role is a chat role in an assembled prompt
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of an assembled prompt
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RoleOf maps a session sender onto a prompt role
func RoleOf(sender Sender) Role {
	if sender == SenderAI {
		return RoleAssistant
	}
	return RoleUser
}

// ProviderRequest is a prompt shaped for one provider. Exactly one of
// Messages or Prompt is set.
type ProviderRequest struct {
	Provider Provider      `json:"provider"`
	Messages []ChatMessage `json:"messages,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

package prompt

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

//go:embed prompt/system.md
var systemPromptRaw string

// TruncationMarker is appended to a history message cut to fit the budget
const TruncationMarker = "\n...[truncated]"

// Assembler builds token-budgeted prompts for one provider
type Assembler struct {
	provider  model.Provider
	userLimit int
	system    *template.Template
}

// Input is what one assembly call works from
type Input struct {
	// UserText is the current user message
	UserText string
	// Tools is the tool catalogue rendered by tool.Describe. Empty means no
	// tool instructions are given.
	Tools string
	// Instructions is extra tool guidance placed after the catalogue
	Instructions string
	// History is the prior conversation, oldest first
	History []model.ChatMessage
}

type systemPromptData struct {
	Tools        string
	Instructions string
}

// New creates an Assembler. userLimit is the configured token limit; the
// provider's hard limit caps it.
func New(provider model.Provider, userLimit int) (*Assembler, error) {
	tmpl, err := template.New("system").Parse(systemPromptRaw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse system prompt template")
	}
	return &Assembler{
		provider:  provider,
		userLimit: userLimit,
		system:    tmpl,
	}, nil
}

// Provider returns the provider the assembler budgets for
func (a *Assembler) Provider() model.Provider {
	return a.provider
}

// SystemPrompt renders the system message
func (a *Assembler) SystemPrompt(tools, instructions string) (string, error) {
	var buf bytes.Buffer
	data := systemPromptData{
		Tools:        strings.TrimSpace(tools),
		Instructions: strings.TrimSpace(instructions),
	}
	if err := a.system.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render system prompt")
	}
	return strings.TrimSpace(buf.String()), nil
}

// Build assembles [system, history..., user]. History is picked newest
// first and kept in chronological order. When the next message does not fit
// and more than SafetyBuffer tokens are left, that one message is truncated
// and scanning stops.
func (a *Assembler) Build(ctx context.Context, input *Input) ([]model.ChatMessage, *Budget, error) {
	logger := logging.From(ctx)

	system, err := a.SystemPrompt(input.Tools, input.Instructions)
	if err != nil {
		return nil, nil, err
	}

	budget := NewBudget(a.provider, a.userLimit)
	budget.reserve(EstimateTokens(system, a.provider), EstimateTokens(input.UserText, a.provider))

	var picked []model.ChatMessage
	used := 0
	for i := len(input.History) - 1; i >= 0; i-- {
		msg := input.History[i]
		cost := EstimateTokens(msg.Content, a.provider)
		gap := budget.RemainingForHistory - used

		if cost <= gap {
			picked = append(picked, msg)
			used += cost
			continue
		}

		if gap > SafetyBuffer {
			if cut, ok := truncate(msg.Content, gap, a.provider); ok {
				picked = append(picked, model.ChatMessage{Role: msg.Role, Content: cut})
				used += EstimateTokens(cut, a.provider)
				budget.Truncated = true
			}
		}
		break
	}

	messages := make([]model.ChatMessage, 0, len(picked)+2)
	messages = append(messages, model.ChatMessage{Role: model.RoleSystem, Content: system})
	for i := len(picked) - 1; i >= 0; i-- {
		messages = append(messages, picked[i])
	}
	messages = append(messages, model.ChatMessage{Role: model.RoleUser, Content: input.UserText})

	budget.HistoryTokens = used
	budget.IncludedMessages = len(picked)

	logger.Debug("prompt assembled",
		"provider", a.provider,
		"effective_limit", budget.EffectiveLimit,
		"system_tokens", budget.SystemTokens,
		"user_tokens", budget.UserTokens,
		"history_tokens", used,
		"history_messages", len(picked),
		"history_available", len(input.History),
		"truncated", budget.Truncated,
	)

	return messages, budget, nil
}

// truncate cuts text so that its estimate with the marker stays within
// tokens. It keeps the head of the text.
func truncate(text string, tokens int, provider model.Provider) (string, bool) {
	limit := charsForTokens(tokens, provider) - utf8.RuneCountInString(TruncationMarker)
	runes := []rune(text)
	if limit > len(runes) {
		limit = len(runes)
	}

	for ; limit > 0; limit-- {
		cut := string(runes[:limit]) + TruncationMarker
		if EstimateTokens(cut, provider) <= tokens {
			return cut, true
		}
	}
	return "", false
}

// HistoryFromSession converts stored messages into prompt history
func HistoryFromSession(messages []*model.Message) []model.ChatMessage {
	history := make([]model.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		history = append(history, model.ChatMessage{
			Role:    model.RoleOf(msg.Sender),
			Content: msg.Text,
		})
	}
	return history
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/usecase/prompt"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

// Status is the outcome of a turn
type Status string

const (
	StatusCompleted            Status = "completed"
	StatusConfirmationRequired Status = "confirmation_required"
	StatusToolBudgetExceeded   Status = "tool_budget_exceeded"
	StatusFailed               Status = "failed"
)

// PendingCall is a tool call held until the user confirms or declines it
type PendingCall struct {
	Tool    string
	Params  map[string]any
	Summary string
	// Reply is the model reply that requested the call
	Reply string
}

// ToolCallRecord is one tool execution within a turn
type ToolCallRecord struct {
	Tool      string
	Arguments map[string]any
	Result    tool.Result
}

// TurnResult reports how a turn ended
type TurnResult struct {
	Status    Status
	Reply     string
	Error     string
	Pending   *PendingCall
	ToolCalls []ToolCallRecord
	Budget    *prompt.Budget
}

type turnState struct {
	userText  string
	startedAt time.Time
	tools     []tool.Tool

	// current is the message sent as the user message of the next round:
	// the user's text first, then the latest tool result
	current string
	// scratch holds the earlier rounds of this turn as prompt history
	scratch []model.ChatMessage
	rounds  int
	pending *PendingCall
	calls   []ToolCallRecord
}

// advance moves the current message and the model reply that answered it
// into scratch history and makes result the next current message
func (t *turnState) advance(reply, name string, result tool.Result) {
	t.scratch = append(t.scratch,
		model.ChatMessage{Role: model.RoleUser, Content: t.current},
		model.ChatMessage{Role: model.RoleAssistant, Content: reply},
	)
	t.current = toolResultMessage(name, result)
}

func toolResultMessage(name string, result tool.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}
	return fmt.Sprintf("Result of tool %s:\n```json\n%s\n```", name, data)
}

// run drives model rounds until the model answers without a tool call, a
// call needs confirmation, the round limit is hit, or the model fails.
func (s *Session) run(ctx context.Context, turn *turnState) *TurnResult {
	logger := logging.From(ctx)
	provider := s.assembler.Provider()

	for {
		history := append(prompt.HistoryFromSession(s.messages), turn.scratch...)
		messages, budget, err := s.assembler.Build(ctx, &prompt.Input{
			UserText:     turn.current,
			Tools:        tool.Describe(turn.tools),
			Instructions: tool.Prompts(ctx, turn.tools),
			History:      history,
		})
		if err != nil {
			return s.fail(ctx, turn, err)
		}

		reply, err := s.llm.Complete(ctx, prompt.FormatForProvider(messages, provider))
		if err != nil {
			return s.fail(ctx, turn, err)
		}

		call, ok := prompt.ParseToolCall(reply)
		if !ok {
			s.persist(ctx, turn, reply)
			return &TurnResult{Status: StatusCompleted, Reply: reply, ToolCalls: turn.calls, Budget: budget}
		}

		if turn.rounds >= MaxToolRounds {
			logger.Warn("tool call budget exceeded", "session", s.id, "rounds", turn.rounds, "tool", call.Tool)
			msg := fmt.Sprintf("Stopped: the tool call limit of %d per turn was reached.", MaxToolRounds)
			s.persist(ctx, turn, msg)
			return &TurnResult{Status: StatusToolBudgetExceeded, Reply: msg, ToolCalls: turn.calls, Budget: budget}
		}
		turn.rounds++

		// only Confirm may approve a guarded call
		delete(call.Arguments, "confirm")

		logger.Info("tool call", "session", s.id, "tool", call.Tool, "round", turn.rounds)
		result := s.registry.Execute(ctx, call.Tool, call.Arguments)

		if result.NeedsConfirmation() {
			turn.pending = &PendingCall{
				Tool:    call.Tool,
				Params:  result.Params(),
				Summary: result.Summary(),
				Reply:   reply,
			}
			return &TurnResult{
				Status:    StatusConfirmationRequired,
				Pending:   turn.pending,
				ToolCalls: turn.calls,
				Budget:    budget,
			}
		}

		s.record(ctx, turn, call, result)
		turn.advance(reply, call.Tool, result)
	}
}

// fail ends the turn without saving. The user's message is dropped so the
// next Send starts clean.
func (s *Session) fail(ctx context.Context, turn *turnState, err error) *TurnResult {
	logging.From(ctx).Warn("turn failed", "session", s.id, logging.ErrAttr(err))
	s.turn = nil
	return &TurnResult{Status: StatusFailed, Error: err.Error(), ToolCalls: turn.calls}
}

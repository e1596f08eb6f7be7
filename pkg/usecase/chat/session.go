package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/usecase/prompt"
	"github.com/m-mizutani/llmchat/pkg/usecase/session"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

// MaxToolRounds is the number of tool calls allowed in one turn
const MaxToolRounds = 10

// DefaultToolK is the number of tools selected per turn when not configured
const DefaultToolK = 5

var (
	ErrNoPendingCall       = goerr.New("no tool call is waiting for confirmation")
	ErrPendingCall         = goerr.New("a tool call is waiting for confirmation")
	ErrEmptyMessage        = goerr.New("message is empty")
	ErrMissingCollaborator = goerr.New("llm, registry and assembler are required")
)

// Session is one conversation with the model. A turn runs at a time; calls
// are serialized.
type Session struct {
	id        model.SessionID
	llm       adapter.LLM
	registry  *tool.Registry
	assembler *prompt.Assembler
	store     *session.Store
	toolK     int
	now       func() time.Time
	hook      func(ctx context.Context, call *model.ToolCall, result tool.Result)

	mu       sync.Mutex
	messages []*model.Message
	turn     *turnState
}

// NewInput contains parameters for creating a chat session
type NewInput struct {
	LLM       adapter.LLM
	Registry  *tool.Registry
	Assembler *prompt.Assembler
	// Store persists completed turns. Optional.
	Store *session.Store
	// SessionID continues an existing conversation when it exists in Store.
	// A new id is generated when empty.
	SessionID model.SessionID
	// ToolK is the number of tools offered to the model per turn
	ToolK int
	// OnToolCall is called after every tool execution. Optional.
	OnToolCall func(ctx context.Context, call *model.ToolCall, result tool.Result)
	Now        func() time.Time
}

// New creates a chat session, loading earlier messages when the session
// exists
func New(ctx context.Context, input NewInput) (*Session, error) {
	if input.LLM == nil || input.Registry == nil || input.Assembler == nil {
		return nil, ErrMissingCollaborator
	}

	s := &Session{
		id:        input.SessionID,
		llm:       input.LLM,
		registry:  input.Registry,
		assembler: input.Assembler,
		store:     input.Store,
		toolK:     input.ToolK,
		now:       input.Now,
		hook:      input.OnToolCall,
	}
	if s.id == "" {
		s.id = model.NewSessionID()
	}
	if err := s.id.Validate(); err != nil {
		return nil, err
	}
	if s.toolK <= 0 {
		s.toolK = DefaultToolK
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.store != nil && input.SessionID != "" {
		sess, err := s.store.Load(ctx, s.id)
		switch {
		case err == nil:
			s.messages = sess.Messages
			logging.From(ctx).Info("session resumed", "id", s.id, "messages", len(sess.Messages))
		case errors.Is(err, session.ErrSessionNotFound):
			logging.From(ctx).Debug("starting new session", "id", s.id)
		default:
			return nil, goerr.Wrap(err, "failed to load session", goerr.V("id", s.id))
		}
	}

	return s, nil
}

// ID returns the session id
func (s *Session) ID() model.SessionID {
	return s.id
}

// Messages returns a copy of the persisted conversation
func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pending returns the tool call waiting for confirmation, nil if none
func (s *Session) Pending() *PendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == nil {
		return nil
	}
	return s.turn.pending
}

// Send starts a turn with the user's message
func (s *Session) Send(ctx context.Context, text string) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turn != nil && s.turn.pending != nil {
		return nil, goerr.Wrap(ErrPendingCall, "confirm or decline first", goerr.V("tool", s.turn.pending.Tool))
	}
	if text == "" {
		return nil, ErrEmptyMessage
	}

	turn := &turnState{
		userText:  text,
		current:   text,
		startedAt: s.now(),
		tools:     s.registry.SelectTools(ctx, text, s.toolK),
	}
	s.turn = turn
	return s.run(ctx, turn), nil
}

// Confirm runs the pending tool call with confirm=true and resumes the turn
func (s *Session) Confirm(ctx context.Context) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := s.turn
	if turn == nil || turn.pending == nil {
		return nil, ErrNoPendingCall
	}
	pending := turn.pending
	turn.pending = nil

	call := &model.ToolCall{Tool: pending.Tool, Arguments: pending.Params}
	result := s.registry.Execute(ctx, call.Tool, call.Arguments)
	s.record(ctx, turn, call, result)
	turn.advance(pending.Reply, call.Tool, result)

	return s.run(ctx, turn), nil
}

// Decline refuses the pending tool call and lets the model continue
func (s *Session) Decline(ctx context.Context) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := s.turn
	if turn == nil || turn.pending == nil {
		return nil, ErrNoPendingCall
	}
	pending := turn.pending
	turn.pending = nil

	result := tool.Result{
		"success":  false,
		"declined": true,
		"error":    "the user declined this action",
	}
	call := &model.ToolCall{Tool: pending.Tool, Arguments: pending.Params}
	s.record(ctx, turn, call, result)
	turn.advance(pending.Reply, call.Tool, result)

	return s.run(ctx, turn), nil
}

func (s *Session) record(ctx context.Context, turn *turnState, call *model.ToolCall, result tool.Result) {
	turn.calls = append(turn.calls, ToolCallRecord{
		Tool:      call.Tool,
		Arguments: call.Arguments,
		Result:    result,
	})
	if s.hook != nil {
		s.hook(ctx, call, result)
	}
}

// persist appends the finished turn to the conversation and saves it. A save
// failure is logged; the conversation stays in memory.
func (s *Session) persist(ctx context.Context, turn *turnState, reply string) {
	s.messages = append(s.messages,
		&model.Message{Sender: model.SenderUser, Text: turn.userText, Timestamp: turn.startedAt},
		&model.Message{Sender: model.SenderAI, Text: reply, Timestamp: s.now()},
	)
	s.turn = nil

	if s.store == nil {
		return
	}
	if _, err := s.store.Save(ctx, s.id, s.messages, nil); err != nil {
		logging.From(ctx).Warn("failed to save session", "id", s.id, logging.ErrAttr(err))
	}
}

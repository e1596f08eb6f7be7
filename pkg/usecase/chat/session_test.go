package chat_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/policy"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/tool/clock"
	"github.com/m-mizutani/llmchat/pkg/tool/file"
	"github.com/m-mizutani/llmchat/pkg/usecase/chat"
	"github.com/m-mizutani/llmchat/pkg/usecase/prompt"
	"github.com/m-mizutani/llmchat/pkg/usecase/session"
)

// scriptedLLM replies from a queue; the last reply repeats once the queue is
// drained
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []*model.ProviderRequest
}

func (m *scriptedLLM) Complete(ctx context.Context, req *model.ProviderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

func (m *scriptedLLM) lastMessages() []model.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1].Messages
}

type fixture struct {
	root     string
	registry *tool.Registry
	store    *session.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	fixed := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	registry := tool.New(
		clock.NewWithClock(func() time.Time { return fixed }, "UTC"),
		file.NewWithRoot(root),
	)
	registry.Init(ctx, &tool.Client{})

	guard, err := policy.New(ctx, "")
	gt.NoError(t, err)
	registry.SetGuard(guard)

	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	return &fixture{
		root:     root,
		registry: registry,
		store:    session.New(storage),
	}
}

func (f *fixture) newSession(t *testing.T, llm adapter.LLM, id model.SessionID) *chat.Session {
	t.Helper()
	assembler, err := prompt.New(model.ProviderOpenAI, 8000)
	gt.NoError(t, err)

	s, err := chat.New(context.Background(), chat.NewInput{
		LLM:       llm,
		Registry:  f.registry,
		Assembler: assembler,
		Store:     f.store,
		SessionID: id,
	})
	gt.NoError(t, err)
	return s
}

func TestPlainAnswer(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	llm := &scriptedLLM{replies: []string{"Hello!"}}
	s := f.newSession(t, llm, "plain")

	res, err := s.Send(ctx, "Hi")
	gt.NoError(t, err)
	gt.Equal(t, res.Status, chat.StatusCompleted)
	gt.Equal(t, res.Reply, "Hello!")

	msgs := llm.lastMessages()
	gt.Equal(t, msgs[0].Role, model.RoleSystem)
	gt.S(t, msgs[0].Content).Contains("time_date")
	gt.Equal(t, msgs[len(msgs)-1].Content, "Hi")

	stored, err := f.store.Load(ctx, "plain")
	gt.NoError(t, err)
	gt.A(t, stored.Messages).Length(2)
	gt.Equal(t, stored.Title, "Hi")
	gt.Equal(t, stored.Messages[1].Sender, model.SenderAI)
}

func TestToolRound(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	llm := &scriptedLLM{replies: []string{
		`{"tool": "time_date", "arguments": {}}`,
		"It is Friday.",
	}}

	var hooked []string
	assembler, err := prompt.New(model.ProviderOpenAI, 8000)
	gt.NoError(t, err)
	s, err := chat.New(ctx, chat.NewInput{
		LLM:       llm,
		Registry:  f.registry,
		Assembler: assembler,
		Store:     f.store,
		OnToolCall: func(ctx context.Context, call *model.ToolCall, result tool.Result) {
			hooked = append(hooked, call.Tool)
		},
	})
	gt.NoError(t, err)

	res, err := s.Send(ctx, "What day is it?")
	gt.NoError(t, err)
	gt.Equal(t, res.Status, chat.StatusCompleted)
	gt.Equal(t, res.Reply, "It is Friday.")
	gt.A(t, res.ToolCalls).Length(1)
	gt.Equal(t, res.ToolCalls[0].Result["weekday"].(string), "Friday")
	gt.Equal(t, hooked, []string{"time_date"})

	// the second round sees the request and the call as history and the
	// tool result as the current message
	msgs := llm.lastMessages()
	gt.Equal(t, msgs[len(msgs)-3].Content, "What day is it?")
	gt.Equal(t, msgs[len(msgs)-2].Role, model.RoleAssistant)
	gt.S(t, msgs[len(msgs)-1].Content).Contains("Result of tool time_date")

	// only the user message and the final answer are kept
	gt.A(t, s.Messages()).Length(2)
}

func TestToolBudget(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	llm := &scriptedLLM{replies: []string{`{"tool": "time_date", "arguments": {}}`}}
	s := f.newSession(t, llm, "loop")

	res, err := s.Send(ctx, "loop forever")
	gt.NoError(t, err)
	gt.Equal(t, res.Status, chat.StatusToolBudgetExceeded)
	gt.A(t, res.ToolCalls).Length(chat.MaxToolRounds)
	gt.A(t, llm.requests).Length(chat.MaxToolRounds + 1)

	stored, err := f.store.Load(ctx, "loop")
	gt.NoError(t, err)
	gt.A(t, stored.Messages).Length(2)
}

func TestConfirmation(t *testing.T) {
	ctx := context.Background()
	deleteCall := `{"tool": "file_operations", "arguments": {"action": "delete", "path": "notes.txt"}}`

	t.Run("confirm runs the held call", func(t *testing.T) {
		f := setup(t)
		target := filepath.Join(f.root, "notes.txt")
		gt.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

		llm := &scriptedLLM{replies: []string{deleteCall, "Deleted."}}
		s := f.newSession(t, llm, "confirm")

		res, err := s.Send(ctx, "delete notes.txt")
		gt.NoError(t, err)
		gt.Equal(t, res.Status, chat.StatusConfirmationRequired)
		gt.Equal(t, res.Pending.Tool, "file_operations")
		gt.Equal(t, res.Pending.Params["confirm"], any(true))
		gt.S(t, res.Pending.Summary).Contains("notes.txt")
		gt.NotNil(t, s.Pending())

		_, err = os.Stat(target)
		gt.NoError(t, err)

		_, err = s.Send(ctx, "another")
		gt.True(t, errors.Is(err, chat.ErrPendingCall))

		res, err = s.Confirm(ctx)
		gt.NoError(t, err)
		gt.Equal(t, res.Status, chat.StatusCompleted)
		gt.Equal(t, res.Reply, "Deleted.")

		_, err = os.Stat(target)
		gt.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("decline keeps the file", func(t *testing.T) {
		f := setup(t)
		target := filepath.Join(f.root, "notes.txt")
		gt.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

		llm := &scriptedLLM{replies: []string{deleteCall, "Okay, I left it."}}
		s := f.newSession(t, llm, "decline")

		res, err := s.Send(ctx, "delete notes.txt")
		gt.NoError(t, err)
		gt.Equal(t, res.Status, chat.StatusConfirmationRequired)

		res, err = s.Decline(ctx)
		gt.NoError(t, err)
		gt.Equal(t, res.Status, chat.StatusCompleted)
		gt.Equal(t, res.ToolCalls[0].Result["declined"], any(true))

		msgs := llm.lastMessages()
		gt.S(t, msgs[len(msgs)-1].Content).Contains("declined")

		_, err = os.Stat(target)
		gt.NoError(t, err)
	})

	t.Run("model cannot approve its own call", func(t *testing.T) {
		f := setup(t)
		target := filepath.Join(f.root, "notes.txt")
		gt.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

		selfConfirmed := `{"tool": "file_operations", "arguments": {"action": "delete", "path": "notes.txt", "confirm": true}}`
		llm := &scriptedLLM{replies: []string{selfConfirmed, "Deleted."}}
		s := f.newSession(t, llm, "self-confirm")

		res, err := s.Send(ctx, "delete notes.txt")
		gt.NoError(t, err)
		gt.Equal(t, res.Status, chat.StatusConfirmationRequired)
		gt.Equal(t, res.Pending.Tool, "file_operations")

		_, err = os.Stat(target)
		gt.NoError(t, err)
	})

	t.Run("nothing to confirm", func(t *testing.T) {
		f := setup(t)
		s := f.newSession(t, &scriptedLLM{replies: []string{"hi"}}, "none")
		_, err := s.Confirm(ctx)
		gt.True(t, errors.Is(err, chat.ErrNoPendingCall))
	})
}

func TestFailedTurn(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	llm := &scriptedLLM{err: errors.New("connection refused")}
	s := f.newSession(t, llm, "failed")

	res, err := s.Send(ctx, "Hi")
	gt.NoError(t, err)
	gt.Equal(t, res.Status, chat.StatusFailed)
	gt.S(t, res.Error).Contains("connection refused")
	gt.A(t, s.Messages()).Length(0)

	_, err = f.store.Load(ctx, "failed")
	gt.True(t, errors.Is(err, session.ErrSessionNotFound))
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first := f.newSession(t, &scriptedLLM{replies: []string{"Nice to meet you, Alice."}}, "resume")
	_, err := first.Send(ctx, "My name is Alice")
	gt.NoError(t, err)

	llm := &scriptedLLM{replies: []string{"You are Alice."}}
	second := f.newSession(t, llm, "resume")
	gt.A(t, second.Messages()).Length(2)

	res, err := second.Send(ctx, "Who am I?")
	gt.NoError(t, err)
	gt.Equal(t, res.Status, chat.StatusCompleted)

	msgs := llm.lastMessages()
	gt.A(t, msgs).Length(4)
	gt.Equal(t, msgs[1].Content, "My name is Alice")
	gt.Equal(t, msgs[2].Content, "Nice to meet you, Alice.")

	stored, err := f.store.Load(ctx, "resume")
	gt.NoError(t, err)
	gt.A(t, stored.Messages).Length(4)
}

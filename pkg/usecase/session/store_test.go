package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/usecase/session"
)

func msg(sender model.Sender, text string) *model.Message {
	return &model.Message{Sender: sender, Text: text, Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newStore(t *testing.T, opts ...session.Option) (*session.Store, adapter.Storage) {
	t.Helper()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]session.Option{session.WithClock(clock.Now)}, opts...)
	return session.New(storage, opts...), storage
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	t.Run("title from first user message", func(t *testing.T) {
		messages := []*model.Message{
			msg(model.SenderUser, "Hi"),
			msg(model.SenderAI, "Hello"),
			msg(model.SenderUser, "What's the weather?"),
		}
		_, err := store.Save(ctx, "s1", messages, nil)
		gt.NoError(t, err)

		sess, err := store.Load(ctx, "s1")
		gt.NoError(t, err)
		gt.Equal(t, sess.Title, "Hi")
		gt.A(t, sess.Chunks).Length(1)
		gt.A(t, sess.Messages).Length(3)
		for i := range messages {
			gt.Equal(t, sess.Messages[i].Text, messages[i].Text)
			gt.Equal(t, sess.Messages[i].Sender, messages[i].Sender)
			gt.True(t, sess.Messages[i].Timestamp.Equal(messages[i].Timestamp))
		}
	})

	t.Run("explicit title is kept", func(t *testing.T) {
		_, err := store.Save(ctx, "s2", []*model.Message{msg(model.SenderUser, "Hi")}, &session.SaveInput{Title: "Greeting"})
		gt.NoError(t, err)
		sess, err := store.Load(ctx, "s2")
		gt.NoError(t, err)
		gt.Equal(t, sess.Title, "Greeting")
	})

	t.Run("long first message is cut", func(t *testing.T) {
		long := strings.Repeat("x", 60)
		sess, err := store.Save(ctx, "s3", []*model.Message{msg(model.SenderAI, "Welcome"), msg(model.SenderUser, long)}, nil)
		gt.NoError(t, err)
		gt.Equal(t, sess.Title, strings.Repeat("x", 47)+"...")
	})

	t.Run("fallback title without user message", func(t *testing.T) {
		sess, err := store.Save(ctx, "s4", []*model.Message{msg(model.SenderAI, "Welcome")}, nil)
		gt.NoError(t, err)
		gt.S(t, sess.Title).Contains("Conversation 2024-05-01")
	})

	t.Run("update keeps created_at and recomputes chunks", func(t *testing.T) {
		first, err := store.Load(ctx, "s1")
		gt.NoError(t, err)

		var messages []*model.Message
		for i := 0; i < 12; i++ {
			messages = append(messages, msg(model.SenderUser, fmt.Sprintf("m%d", i)))
		}
		updated, err := store.Save(ctx, "s1", messages, nil)
		gt.NoError(t, err)
		gt.True(t, updated.CreatedAt.Equal(first.CreatedAt))
		gt.True(t, updated.UpdatedAt.After(first.UpdatedAt))
		gt.Equal(t, updated.Title, "Hi")

		loaded, err := store.Load(ctx, "s1")
		gt.NoError(t, err)
		gt.A(t, loaded.Chunks).Length(3)
		gt.A(t, loaded.Chunks[2]).Length(2)
		gt.Equal(t, loaded.Chunks[2][1].Text, "m11")
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := store.Save(ctx, "../etc", nil, nil)
		gt.True(t, errors.Is(err, model.ErrInvalidSessionID))
	})
}

func TestLoadNotFound(t *testing.T) {
	ctx := context.Background()
	store, storage := newStore(t)

	t.Run("missing", func(t *testing.T) {
		_, err := store.Load(ctx, "nothing")
		gt.True(t, errors.Is(err, session.ErrSessionNotFound))
	})

	t.Run("corrupt document", func(t *testing.T) {
		w, err := storage.Put(ctx, "session-broken.json")
		gt.NoError(t, err)
		_, err = io.WriteString(w, "{not json")
		gt.NoError(t, err)
		gt.NoError(t, w.Close())

		_, err = store.Load(ctx, "broken")
		gt.True(t, errors.Is(err, session.ErrSessionNotFound))
	})

	t.Run("corrupt document is skipped in list", func(t *testing.T) {
		_, err := store.Save(ctx, "good", []*model.Message{msg(model.SenderUser, "ok")}, nil)
		gt.NoError(t, err)
		list, err := store.List(ctx)
		gt.NoError(t, err)
		gt.A(t, list).Length(1)
		gt.Equal(t, list[0].ID, model.SessionID("good"))
	})
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	_, err := store.Save(ctx, "old", []*model.Message{msg(model.SenderUser, "first")}, nil)
	gt.NoError(t, err)
	_, err = store.Save(ctx, "new", []*model.Message{
		msg(model.SenderUser, "one"),
		msg(model.SenderAI, "two"),
		msg(model.SenderUser, "three"),
		msg(model.SenderAI, strings.Repeat("y", 80)),
	}, nil)
	gt.NoError(t, err)

	list, err := store.List(ctx)
	gt.NoError(t, err)
	gt.A(t, list).Length(2)
	gt.Equal(t, list[0].ID, model.SessionID("new"))
	gt.Equal(t, list[0].MessageCount, 4)
	gt.Equal(t, list[0].Preview, "ai: two\nuser: three\nai: "+strings.Repeat("y", 47)+"...")
	lines := strings.Split(list[0].Preview, "\n")
	gt.Equal(t, len([]rune(strings.TrimPrefix(lines[2], "ai: "))), 50)

	deleted, err := store.Delete(ctx, "old")
	gt.NoError(t, err)
	gt.True(t, deleted)

	deleted, err = store.Delete(ctx, "old")
	gt.NoError(t, err)
	gt.False(t, deleted)

	list, err = store.List(ctx)
	gt.NoError(t, err)
	gt.A(t, list).Length(1)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	var events []session.Event
	store.OnEvent(func(ctx context.Context, ev session.Event) {
		events = append(events, ev)
	})

	_, err := store.Save(ctx, "e1", []*model.Message{msg(model.SenderUser, "hi")}, nil)
	gt.NoError(t, err)
	_, err = store.Load(ctx, "e1")
	gt.NoError(t, err)
	_, err = store.Load(ctx, "missing")
	gt.Error(t, err)
	_, err = store.Delete(ctx, "e1")
	gt.NoError(t, err)

	gt.Equal(t, events, []session.Event{
		{Type: session.EventSaved, SessionID: "e1"},
		{Type: session.EventLoaded, SessionID: "e1"},
		{Type: session.EventDeleted, SessionID: "e1"},
	})
}

// failingMemory rejects every call
type failingMemory struct {
	calls int
}

func (m *failingMemory) IndexMemory(ctx context.Context, record *model.MemoryRecord) (bool, error) {
	m.calls++
	return false, goerr.Wrap(adapter.ErrMemoryUnavailable, "down")
}

func (m *failingMemory) GetRelevantMemories(ctx context.Context, query string, k int, namespaces ...string) ([]*model.MemoryHit, error) {
	return nil, goerr.Wrap(adapter.ErrMemoryUnavailable, "down")
}

func (m *failingMemory) GetRelevantToolDescriptions(ctx context.Context, query string, k int) ([]*model.ToolDescriptor, error) {
	return nil, adapter.ErrMemoryUnavailable
}

func (m *failingMemory) ClearNamespace(ctx context.Context, namespace string) error { return nil }
func (m *failingMemory) ListIDs(ctx context.Context, namespace string) ([]string, error) {
	return nil, nil
}
func (m *failingMemory) AddInitializationListener(fn func(ctx context.Context)) {}
func (m *failingMemory) Status(ctx context.Context) (*model.MemoryStatus, error) {
	return &model.MemoryStatus{}, nil
}

func TestIndexingFailureKeepsDocument(t *testing.T) {
	ctx := context.Background()
	mem := &failingMemory{}
	store, _ := newStore(t, session.WithMemory(mem))

	_, err := store.Save(ctx, "kept", []*model.Message{msg(model.SenderUser, "hello")}, nil)
	gt.NoError(t, err)
	gt.Equal(t, mem.calls, 2)

	sess, err := store.Load(ctx, "kept")
	gt.NoError(t, err)
	gt.Equal(t, sess.Title, "hello")

	_, err = store.Search(ctx, "hello", 5)
	gt.True(t, errors.Is(err, adapter.ErrMemoryUnavailable))
}

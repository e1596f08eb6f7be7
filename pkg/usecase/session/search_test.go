package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/usecase/session"
)

func newSQLiteStore(t *testing.T) (*session.Store, *adapter.SQLiteMemory) {
	t.Helper()
	mem, err := adapter.NewSQLiteMemory(context.Background(), t.TempDir()+"/memory.db")
	gt.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	store, _ := newStore(t, session.WithMemory(mem))
	return store, mem
}

func TestSaveIndexesSessionAndChunks(t *testing.T) {
	ctx := context.Background()
	store, mem := newSQLiteStore(t)

	var messages []*model.Message
	for i := 0; i < 7; i++ {
		messages = append(messages, msg(model.SenderUser, fmt.Sprintf("line %d", i)))
	}
	_, err := store.Save(ctx, "s1", messages, nil)
	gt.NoError(t, err)

	ids, err := mem.ListIDs(ctx, model.NamespaceSessions)
	gt.NoError(t, err)
	gt.Equal(t, ids, []string{"session_s1", "session_s1_chunk_0", "session_s1_chunk_1"})
}

func TestSearchDeduplicates(t *testing.T) {
	ctx := context.Background()
	store, _ := newSQLiteStore(t)

	_, err := store.Save(ctx, "bread", []*model.Message{
		msg(model.SenderUser, "How do I feed a sourdough starter?"),
		msg(model.SenderAI, "Feed the sourdough starter daily with flour and water."),
		msg(model.SenderUser, "thanks"),
		msg(model.SenderAI, "welcome"),
		msg(model.SenderUser, "ok"),
		msg(model.SenderUser, "Can sourdough go in the fridge?"),
	}, nil)
	gt.NoError(t, err)

	_, err = store.Save(ctx, "weather", []*model.Message{
		msg(model.SenderUser, "Will it rain tomorrow?"),
		msg(model.SenderAI, "Expect light rain in the afternoon."),
	}, nil)
	gt.NoError(t, err)

	t.Run("one summary per session", func(t *testing.T) {
		results, err := store.Search(ctx, "sourdough", 10)
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].ID, model.SessionID("bread"))
		gt.True(t, results[0].Relevance > 0)
	})

	t.Run("deleted sessions are skipped", func(t *testing.T) {
		_, err := store.Delete(ctx, "weather")
		gt.NoError(t, err)
		results, err := store.Search(ctx, "rain", 10)
		gt.NoError(t, err)
		gt.A(t, results).Length(0)
	})

	t.Run("chunks of one session", func(t *testing.T) {
		hits, err := store.SearchChunks(ctx, "bread", "fridge", 10)
		gt.NoError(t, err)
		gt.A(t, hits).Length(1)
		gt.Equal(t, hits[0].Index, 1)
		gt.S(t, hits[0].Text).Contains("fridge")
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := store.Search(ctx, "  ", 10)
		gt.Error(t, err)
	})

	t.Run("no memory service", func(t *testing.T) {
		plain, _ := newStore(t)
		_, err := plain.Search(ctx, "sourdough", 10)
		gt.True(t, errors.Is(err, adapter.ErrMemoryUnavailable))
	})
}

// scriptedMemory returns fixed hits
type scriptedMemory struct {
	failingMemory
	hits []*model.MemoryHit
}

func (m *scriptedMemory) IndexMemory(ctx context.Context, record *model.MemoryRecord) (bool, error) {
	return true, nil
}

func (m *scriptedMemory) GetRelevantMemories(ctx context.Context, query string, k int, namespaces ...string) ([]*model.MemoryHit, error) {
	return m.hits, nil
}

func TestSearchKeepsFirstHitScore(t *testing.T) {
	ctx := context.Background()
	mem := &scriptedMemory{hits: []*model.MemoryHit{
		{ID: "session_a_chunk_1", Relevance: 0.9, Context: map[string]any{"conversation_id": "a", "chunk_index": float64(1)}},
		{ID: "session_b", Relevance: 0.8},
		{ID: "session_a", Relevance: 0.7},
		{ID: "session_a_chunk_0", Relevance: 0.6},
		{ID: "unrelated", Relevance: 0.5},
	}}
	store, _ := newStore(t, session.WithMemory(mem))

	for _, id := range []model.SessionID{"a", "b"} {
		_, err := store.Save(ctx, id, []*model.Message{msg(model.SenderUser, "x")}, nil)
		gt.NoError(t, err)
	}

	results, err := store.Search(ctx, "x", 5)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)
	gt.Equal(t, results[0].ID, model.SessionID("a"))
	gt.Equal(t, results[0].Relevance, 0.9)
	gt.Equal(t, results[1].ID, model.SessionID("b"))

	chunks, err := store.SearchChunks(ctx, "a", "x", 5)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(2)
	gt.Equal(t, chunks[0].Index, 1)
	gt.Equal(t, chunks[1].Index, 0)
}

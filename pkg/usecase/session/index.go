package session

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

const (
	recordTypeSession = "session"
	recordTypeChunk   = "chunk"
)

var recordIDPattern = regexp.MustCompile(`^session_(.+?)(?:_chunk_(\d+))?$`)

// SessionRecordID is the memory record id of a whole session
func SessionRecordID(id model.SessionID) string {
	return "session_" + id.String()
}

// ChunkRecordID is the memory record id of one chunk
func ChunkRecordID(id model.SessionID, index int) string {
	return SessionRecordID(id) + "_chunk_" + strconv.Itoa(index)
}

// transcript renders messages as "<sender>: <text>" lines
func transcript(messages []*model.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		lines = append(lines, string(msg.Sender)+": "+msg.Text)
	}
	return strings.Join(lines, "\n")
}

// index writes the session record and one record per chunk. Failures are
// logged; the saved document stays as is.
func (s *Store) index(ctx context.Context, sess *model.Session) {
	if s.memory == nil || len(sess.Messages) == 0 {
		return
	}
	logger := logging.From(ctx)

	records := make([]*model.MemoryRecord, 0, len(sess.Chunks)+1)
	records = append(records, &model.MemoryRecord{
		ID:        SessionRecordID(sess.ID),
		Text:      transcript(sess.Messages),
		Namespace: model.NamespaceSessions,
		Context: map[string]any{
			"type":            recordTypeSession,
			"conversation_id": sess.ID.String(),
			"title":           sess.Title,
		},
	})
	for i, chunk := range sess.Chunks {
		records = append(records, &model.MemoryRecord{
			ID:        ChunkRecordID(sess.ID, i),
			Text:      transcript(chunk),
			Namespace: model.NamespaceSessions,
			Context: map[string]any{
				"type":            recordTypeChunk,
				"conversation_id": sess.ID.String(),
				"chunk_index":     i,
				"title":           sess.Title,
			},
		})
	}

	indexed := 0
	for _, rec := range records {
		if _, err := s.memory.IndexMemory(ctx, rec); err != nil {
			logger.Warn("failed to index session record", "id", rec.ID, logging.ErrAttr(err))
			continue
		}
		indexed++
	}
	logger.Debug("session indexed", "id", sess.ID, "records", indexed, "total", len(records))
}

// Reindex indexes a stored session again, for example after the memory
// service was reset
func (s *Store) Reindex(ctx context.Context, id model.SessionID) error {
	if s.memory == nil {
		return goerr.Wrap(adapter.ErrMemoryUnavailable, "no memory service attached")
	}
	sess, err := s.read(ctx, id)
	if err != nil {
		return err
	}
	s.index(ctx, sess)
	return nil
}

// hitSession resolves which session a memory hit belongs to and, for chunk
// records, the chunk index (-1 otherwise)
func hitSession(hit *model.MemoryHit) (model.SessionID, int, bool) {
	var id model.SessionID
	chunk := -1

	if m := recordIDPattern.FindStringSubmatch(hit.ID); m != nil {
		id = model.SessionID(m[1])
		if m[2] != "" {
			chunk, _ = strconv.Atoi(m[2])
		}
	}
	if cid := hit.ContextString("conversation_id"); cid != "" {
		id = model.SessionID(cid)
	}
	if v, ok := contextInt(hit.Context, "chunk_index"); ok {
		chunk = v
	}

	if id == "" {
		return "", -1, false
	}
	return id, chunk, true
}

// contextInt reads a number that may have been decoded as any numeric type
func contextInt(ctx map[string]any, key string) (int, bool) {
	switch v := ctx[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

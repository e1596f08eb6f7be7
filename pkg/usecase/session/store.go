package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

var ErrSessionNotFound = goerr.New("session not found")

const (
	keyPrefix = "session-"
	keySuffix = ".json"

	titleMaxLen   = 50
	titleCutLen   = 47
	previewCount  = 3
	previewMaxLen = 50
	previewCutLen = 47
)

// EventType is the kind of a session event
type EventType string

const (
	EventSaved   EventType = "saved"
	EventLoaded  EventType = "loaded"
	EventDeleted EventType = "deleted"
)

// Event is published to listeners after a successful save, load or delete
type Event struct {
	Type      EventType
	SessionID model.SessionID
}

// Store persists sessions as one JSON document each and indexes them into
// the memory service for semantic search. The document is authoritative;
// indexing is best effort.
type Store struct {
	storage adapter.Storage
	memory  adapter.MemoryService
	now     func() time.Time

	mu        sync.Mutex
	listeners []func(ctx context.Context, ev Event)
}

// Option configures Store
type Option func(*Store)

// WithMemory attaches the memory service used for indexing and search
func WithMemory(svc adapter.MemoryService) Option {
	return func(s *Store) {
		s.memory = svc
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a session store on storage
func New(storage adapter.Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEvent registers a listener. Listeners run synchronously in the caller's
// goroutine.
func (s *Store) OnEvent(fn func(ctx context.Context, ev Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) publish(ctx context.Context, ev Event) {
	s.mu.Lock()
	listeners := make([]func(ctx context.Context, ev Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, ev)
	}
}

func sessionKey(id model.SessionID) string {
	return keyPrefix + id.String() + keySuffix
}

// SaveInput carries optional metadata for Save
type SaveInput struct {
	// Title overrides the stored or computed title when not empty
	Title       string
	Settings    map[string]any
	ToolResults []any
}

// Save writes the session document for id with messages and then indexes it.
// An existing session keeps its creation time, title and settings unless
// input overrides them.
func (s *Store) Save(ctx context.Context, id model.SessionID, messages []*model.Message, input *SaveInput) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if input == nil {
		input = &SaveInput{}
	}

	s.mu.Lock()
	sess, err := s.write(ctx, id, messages, input)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.index(ctx, sess)
	s.publish(ctx, Event{Type: EventSaved, SessionID: id})
	return sess, nil
}

func (s *Store) write(ctx context.Context, id model.SessionID, messages []*model.Message, input *SaveInput) (*model.Session, error) {
	now := s.now()

	prev, err := s.read(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	sess := &model.Session{
		ID:          id,
		CreatedAt:   now,
		Messages:    make([]*model.Message, 0, len(messages)),
		Settings:    map[string]any{},
		ToolResults: []any{},
	}
	for _, msg := range messages {
		if msg != nil {
			sess.Messages = append(sess.Messages, msg)
		}
	}
	if prev != nil {
		sess.CreatedAt = prev.CreatedAt
		sess.Title = prev.Title
		if prev.Settings != nil {
			sess.Settings = prev.Settings
		}
		if prev.ToolResults != nil {
			sess.ToolResults = prev.ToolResults
		}
	}
	if input.Title != "" {
		sess.Title = input.Title
	}
	if sess.Title == "" {
		sess.Title = ComputeTitle(sess.Messages, now)
	}
	if input.Settings != nil {
		sess.Settings = input.Settings
	}
	if input.ToolResults != nil {
		sess.ToolResults = input.ToolResults
	}
	sess.UpdatedAt = now
	sess.Chunks = model.ChunkMessages(sess.Messages, model.ChunkSize)

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal session", goerr.V("id", id))
	}

	writer, err := s.storage.Put(ctx, sessionKey(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage writer", goerr.V("id", id))
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return nil, goerr.Wrap(err, "failed to write session", goerr.V("id", id))
	}
	if err := writer.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to close storage writer", goerr.V("id", id))
	}

	logging.From(ctx).Debug("session saved", "id", id, "messages", len(sess.Messages), "chunks", len(sess.Chunks))
	return sess, nil
}

// Load reads a session. A missing or unreadable document wraps
// ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, goerr.Wrap(ErrSessionNotFound, "invalid session id", goerr.V("id", id))
	}

	sess, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: EventLoaded, SessionID: id})
	return sess, nil
}

func (s *Store) read(ctx context.Context, id model.SessionID) (*model.Session, error) {
	reader, err := s.storage.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, goerr.Wrap(ErrSessionNotFound, "no session document", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session from storage", goerr.V("id", id))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read session data", goerr.V("id", id))
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		logging.From(ctx).Warn("session document is corrupt", "id", id, logging.ErrAttr(err))
		return nil, goerr.Wrap(ErrSessionNotFound, "failed to parse session", goerr.V("id", id), goerr.V("error", err.Error()))
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return &sess, nil
}

// List returns all readable sessions, most recently updated first.
// Unreadable documents are skipped.
func (s *Store) List(ctx context.Context) ([]*model.SessionSummary, error) {
	logger := logging.From(ctx)

	keys, err := s.storage.List(ctx, keyPrefix)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions")
	}

	summaries := make([]*model.SessionSummary, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, keySuffix) {
			continue
		}
		id := model.SessionID(strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix))
		sess, err := s.read(ctx, id)
		if err != nil {
			logger.Warn("skip unreadable session", "key", key, logging.ErrAttr(err))
			continue
		}
		summaries = append(summaries, Summarize(sess))
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes a session document. It reports false when there was
// nothing to delete.
func (s *Store) Delete(ctx context.Context, id model.SessionID) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	err := s.storage.Delete(ctx, sessionKey(id))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to delete session", goerr.V("id", id))
	}

	s.publish(ctx, Event{Type: EventDeleted, SessionID: id})
	return true, nil
}

// Summarize builds the listing view of a session
func Summarize(sess *model.Session) *model.SessionSummary {
	return &model.SessionSummary{
		ID:           sess.ID,
		Title:        sess.Title,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.Messages),
		Preview:      Preview(sess.Messages),
	}
}

// Preview renders the last few messages, each cut to a short line
func Preview(messages []*model.Message) string {
	start := max(len(messages)-previewCount, 0)

	lines := make([]string, 0, previewCount)
	for _, msg := range messages[start:] {
		if msg == nil {
			continue
		}
		text := strings.Join(strings.Fields(msg.Text), " ")
		if r := []rune(text); len(r) > previewMaxLen {
			text = string(r[:previewCutLen]) + "..."
		}
		lines = append(lines, string(msg.Sender)+": "+text)
	}
	return strings.Join(lines, "\n")
}

// ComputeTitle derives a title from the first user message, or from now when
// there is none
func ComputeTitle(messages []*model.Message, now time.Time) string {
	for _, msg := range messages {
		if msg == nil || msg.Sender != model.SenderUser {
			continue
		}
		text := strings.Join(strings.Fields(msg.Text), " ")
		if text == "" {
			continue
		}
		return clampTitle(text)
	}
	return "Conversation " + now.Format("2006-01-02 15:04")
}

func clampTitle(text string) string {
	r := []rune(text)
	if len(r) > titleMaxLen {
		return string(r[:titleCutLen]) + "..."
	}
	return text
}

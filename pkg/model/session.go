package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// ChunkSize is the maximum number of messages in one indexed chunk
const ChunkSize = 5

var ErrInvalidSessionID = goerr.New("invalid session id")

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the id can be used as part of a file name
func (id SessionID) Validate() error {
	if id == "" || len(id) > 128 || !sessionIDPattern.MatchString(string(id)) {
		return goerr.Wrap(ErrInvalidSessionID, "session id must be filesystem-safe", goerr.V("id", id))
	}
	return nil
}

func (id SessionID) String() string {
	return string(id)
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is one entry of a conversation
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the persisted conversation document. Chunks is always derived
// from Messages on save.
type Session struct {
	ID          SessionID      `json:"id"`
	Title       string         `json:"title"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Messages    []*Message     `json:"messages"`
	Chunks      [][]*Message   `json:"chunks"`
	Settings    map[string]any `json:"settings"`
	ToolResults []any          `json:"tool_results"`
}

// ChunkMessages partitions messages into consecutive groups of at most size,
// preserving order.
func ChunkMessages(messages []*Message, size int) [][]*Message {
	if size <= 0 {
		size = ChunkSize
	}
	chunks := make([][]*Message, 0, (len(messages)+size-1)/size)
	for start := 0; start < len(messages); start += size {
		end := start + size
		if end > len(messages) {
			end = len(messages)
		}
		chunk := make([]*Message, end-start)
		copy(chunk, messages[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// SessionSummary is the listing view of a session
type SessionSummary struct {
	ID           SessionID `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
	Relevance    float64   `json:"relevance,omitempty"`
}

// ChunkHit is a chunk-level search result within one session
type ChunkHit struct {
	Index     int     `json:"index"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

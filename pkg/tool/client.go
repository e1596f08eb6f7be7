package tool

import (
	"context"

	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
)

// SessionSearcher is the part of the session store exposed to tools
type SessionSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]*model.SessionSummary, error)
	SearchChunks(ctx context.Context, id model.SessionID, query string, limit int) ([]*model.ChunkHit, error)
}

// Client contains shared resources that tools can use
type Client struct {
	Memory   adapter.MemoryService
	Sessions SessionSearcher
}

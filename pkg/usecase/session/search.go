package session

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

// Search returns up to limit sessions relevant to query. A session appears
// once, with the relevance of its first hit, even when several of its
// records match.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*model.SessionSummary, error) {
	hits, err := s.searchRecords(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	logger := logging.From(ctx)

	seen := make(map[model.SessionID]bool, len(hits))
	results := make([]*model.SessionSummary, 0, len(hits))
	for _, hit := range hits {
		id, _, ok := hitSession(hit)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		sess, err := s.read(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				logger.Warn("failed to load matched session", "id", id, logging.ErrAttr(err))
			}
			continue
		}

		summary := Summarize(sess)
		summary.Relevance = hit.Relevance
		results = append(results, summary)
	}
	return results, nil
}

// SearchChunks returns the chunks of one session among the top limit
// records relevant to query
func (s *Store) SearchChunks(ctx context.Context, id model.SessionID, query string, limit int) ([]*model.ChunkHit, error) {
	hits, err := s.searchRecords(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var results []*model.ChunkHit
	for _, hit := range hits {
		sid, chunk, ok := hitSession(hit)
		if !ok || sid != id || chunk < 0 {
			continue
		}
		results = append(results, &model.ChunkHit{
			Index:     chunk,
			Text:      hit.Text,
			Relevance: hit.Relevance,
		})
	}
	return results, nil
}

func (s *Store) searchRecords(ctx context.Context, query string, limit int) ([]*model.MemoryHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.New("query is empty")
	}
	if limit <= 0 {
		return nil, goerr.New("limit must be positive", goerr.V("limit", limit))
	}
	if s.memory == nil {
		return nil, goerr.Wrap(adapter.ErrMemoryUnavailable, "no memory service attached")
	}

	hits, err := s.memory.GetRelevantMemories(ctx, query, limit, model.NamespaceSessions)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search sessions", goerr.V("query", query))
	}
	return hits, nil
}

package recall

import (
	"context"

	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/urfave/cli/v3"
)

const defaultLimit = 5

type recall struct {
	sessions tool.SessionSearcher
}

// New creates the search_conversations tool
func New() *recall {
	return &recall{}
}

func (x *recall) Flags() []cli.Flag {
	return nil
}

// Init enables the tool when a session store is available
func (x *recall) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Sessions == nil {
		return false, nil
	}
	x.sessions = client.Sessions
	return true, nil
}

func (x *recall) Prompt(ctx context.Context) string {
	return "Use search_conversations when the user refers to something discussed in an earlier conversation."
}

func (x *recall) Spec() *model.ToolDescriptor {
	return &model.ToolDescriptor{
		Name:        "search_conversations",
		Description: "Search past conversations by meaning and return matching sessions or passages",
		Category:    "memory",
		Keywords:    []string{"remember", "earlier", "previous", "history", "conversation", "recall"},
		Parameters: map[string]*model.ParamSpec{
			"query": {
				Type:        model.ParamTypeString,
				Description: "What to look for",
			},
			"session_id": {
				Type:        model.ParamTypeString,
				Description: "Restrict the search to passages of one session",
				Optional:    true,
			},
			"limit": {
				Type:        model.ParamTypeInteger,
				Description: "Maximum number of results (default 5)",
				Optional:    true,
			},
		},
	}
}

func (x *recall) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	query, ok := tool.StringParam(params, "query")
	if !ok {
		return tool.Failure("query is required"), nil
	}
	limit := tool.IntParam(params, "limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}

	if id, ok := tool.StringParam(params, "session_id"); ok {
		hits, err := x.sessions.SearchChunks(ctx, model.SessionID(id), query, limit)
		if err != nil {
			return nil, err
		}
		passages := make([]map[string]any, len(hits))
		for i, h := range hits {
			passages[i] = map[string]any{
				"chunk_index": h.Index,
				"text":        h.Text,
				"relevance":   h.Relevance,
			}
		}
		return tool.Success(map[string]any{"session_id": id, "passages": passages}), nil
	}

	summaries, err := x.sessions.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	sessions := make([]map[string]any, len(summaries))
	for i, s := range summaries {
		sessions[i] = map[string]any{
			"session_id":    s.ID.String(),
			"title":         s.Title,
			"updated_at":    s.UpdatedAt,
			"message_count": s.MessageCount,
			"preview":       s.Preview,
			"relevance":     s.Relevance,
		}
	}
	return tool.Success(map[string]any{"sessions": sessions}), nil
}

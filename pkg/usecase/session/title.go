package session

import (
	"context"
	"strings"

	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/usecase/prompt"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

const (
	titleInstruction = "Write a short title of at most 50 characters for the conversation below. Reply with the title only."
	titleMessages    = 10
)

// GenerateTitle asks llm for a title and saves it. When the model fails or
// replies with nothing usable, the computed title is used instead.
func (s *Store) GenerateTitle(ctx context.Context, id model.SessionID, llm adapter.LLM, provider model.Provider) (string, error) {
	sess, err := s.read(ctx, id)
	if err != nil {
		return "", err
	}

	title := ComputeTitle(sess.Messages, s.now())
	if llm != nil && len(sess.Messages) > 0 {
		msgs := sess.Messages
		if len(msgs) > titleMessages {
			msgs = msgs[:titleMessages]
		}
		req := prompt.FormatForProvider([]model.ChatMessage{
			{Role: model.RoleSystem, Content: titleInstruction},
			{Role: model.RoleUser, Content: transcript(msgs)},
		}, provider)

		reply, err := llm.Complete(ctx, req)
		if err != nil {
			logging.From(ctx).Warn("title generation failed, using computed title", "id", id, logging.ErrAttr(err))
		} else if t := cleanTitle(reply); t != "" {
			title = t
		}
	}

	if _, err := s.Save(ctx, id, sess.Messages, &SaveInput{Title: title}); err != nil {
		return "", err
	}
	return title, nil
}

func cleanTitle(reply string) string {
	line := strings.TrimSpace(reply)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(strings.TrimSpace(line), "\"'`*# ")
	if line == "" {
		return ""
	}
	return clampTitle(line)
}

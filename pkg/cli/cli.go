package cli

import (
	"context"

	"github.com/m-mizutani/llmchat/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "llmchat",
		Usage: "Local conversational agent with tools and searchable sessions",
		Commands: []*cli.Command{
			chatCommand(),
			promptCommand(),
			sessionsCommand(),
			toolsCommand(),
			memoryCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", logging.ErrAttr(err))
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/tool/builtin"
	"github.com/m-mizutani/llmchat/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

func promptCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
		yes       bool
	)
	candidates := builtin.Tools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to continue",
			Sources:     cli.EnvVars("LLMCHAT_SESSION"),
			Destination: &sessionID,
		},
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Run tool calls that need confirmation without asking",
			Destination: &yes,
		},
	}
	flags = append(flags, agentFlags(&cfg, candidates)...)

	return &cli.Command{
		Name:      "prompt",
		Usage:     "Send one message and print the reply; reads stdin when no argument is given",
		ArgsUsage: "[message]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return goerr.Wrap(err, "failed to read stdin")
				}
				text = strings.TrimSpace(string(data))
			}
			if text == "" {
				return goerr.New("message is required")
			}

			e, err := cfg.newEnv(ctx, candidates, true)
			if err != nil {
				return err
			}
			defer e.Close()

			sess, err := e.newChatSession(ctx, &cfg, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to start session")
			}

			w := c.Root().Writer
			res, err := sess.Send(ctx, text)
			for err == nil && res.Status == chat.StatusConfirmationRequired {
				if yes {
					res, err = sess.Confirm(ctx)
				} else {
					fmt.Fprintf(w, "declined %s: %s (use --yes to allow)\n", res.Pending.Tool, res.Pending.Summary)
					res, err = sess.Decline(ctx)
				}
			}
			if err != nil {
				return err
			}

			printTurn(w, res)
			fmt.Fprintf(os.Stderr, "session: %s\n", sess.ID())
			if res.Status == chat.StatusFailed {
				return goerr.New("turn failed", goerr.V("error", res.Error))
			}
			return nil
		},
	}
}

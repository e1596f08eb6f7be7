package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/tool/builtin"
	"github.com/m-mizutani/llmchat/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

// agentFlags returns every flag a command running the agent needs, including
// the flags of the built-in candidate tools
func agentFlags(cfg *config, candidates []tool.Tool) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, toolFlags(cfg)...)
	flags = append(flags, tool.New(candidates...).Flags()...)
	return flags
}

// newChatSession starts or resumes a conversation on the wired environment
func (e *env) newChatSession(ctx context.Context, cfg *config, id string) (*chat.Session, error) {
	return chat.New(ctx, chat.NewInput{
		LLM:       e.llm,
		Registry:  e.registry,
		Assembler: e.assembler,
		Store:     e.store,
		SessionID: model.SessionID(id),
		ToolK:     int(cfg.toolK),
	})
}

func chatCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
	)
	candidates := builtin.Tools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to resume; a new session is started when empty",
			Sources:     cli.EnvVars("LLMCHAT_SESSION"),
			Destination: &sessionID,
		},
	}
	flags = append(flags, agentFlags(&cfg, candidates)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with the agent",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			e, err := cfg.newEnv(ctx, candidates, true)
			if err != nil {
				return err
			}
			defer e.Close()

			sess, err := e.newChatSession(ctx, &cfg, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to start session")
			}

			dataDir := defaultDataDir()
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return goerr.Wrap(err, "failed to create data dir", goerr.V("dir", dataDir))
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     filepath.Join(dataDir, "history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Session %s (%s). Type 'exit' to quit.\n", sess.ID(), e.provider)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				res, err := withSpinner(func() (*chat.TurnResult, error) {
					return sess.Send(ctx, line)
				})
				for err == nil && res.Status == chat.StatusConfirmationRequired {
					fmt.Fprintf(w, "%s wants to run: %s\n", res.Pending.Tool, res.Pending.Summary)
					ok, askErr := ask(rl, "Proceed? [y/N] ")
					if askErr != nil {
						return askErr
					}
					if ok {
						res, err = withSpinner(func() (*chat.TurnResult, error) { return sess.Confirm(ctx) })
					} else {
						res, err = withSpinner(func() (*chat.TurnResult, error) { return sess.Decline(ctx) })
					}
				}
				if err != nil {
					fmt.Fprintf(w, "error: %v\n", err)
					continue
				}
				printTurn(w, res)
			}
		},
	}
}

// withSpinner shows a spinner on stderr while fn runs
func withSpinner(fn func() (*chat.TurnResult, error)) (*chat.TurnResult, error) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(os.Stderr),
		spinner.WithSuffix(" thinking..."),
	)
	sp.Start()
	defer sp.Stop()
	return fn()
}

// ask reads a yes/no answer; anything but y or yes is no
func ask(rl *readline.Instance, question string) (bool, error) {
	rl.SetPrompt(question)
	defer rl.SetPrompt("> ")

	answer, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to read answer")
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func printToolCalls(w io.Writer, res *chat.TurnResult) {
	for _, call := range res.ToolCalls {
		status := "ok"
		if call.Result.IsError() {
			status = "error: " + call.Result.ErrorMessage()
		}
		fmt.Fprintf(w, "  [%s] %s\n", call.Tool, status)
	}
}

func printTurn(w io.Writer, res *chat.TurnResult) {
	printToolCalls(w, res)

	switch res.Status {
	case chat.StatusCompleted, chat.StatusToolBudgetExceeded:
		fmt.Fprintln(w, res.Reply)
	case chat.StatusFailed:
		fmt.Fprintf(w, "error: %s\n", res.Error)
	}
}

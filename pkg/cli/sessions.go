package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/usecase/session"
	"github.com/urfave/cli/v3"
)

func sessionsCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	// storeAction wires the session store for a subcommand
	storeAction := func(fn func(ctx context.Context, c *cli.Command, e *env) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			e, err := cfg.newStoreEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			return fn(ctx, c, e)
		}
	}

	var (
		limit   int64
		asJSON  bool
		noModel bool
	)

	return &cli.Command{
		Name:  "sessions",
		Usage: "Manage saved conversations",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sessions, most recently updated first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print as JSON", Destination: &asJSON},
				},
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					summaries, err := e.store.List(ctx)
					if err != nil {
						return err
					}
					w := c.Root().Writer
					if asJSON {
						return writeJSON(w, summaries)
					}
					if len(summaries) == 0 {
						fmt.Fprintln(w, "No sessions")
						return nil
					}
					for _, s := range summaries {
						printSummary(w, s)
					}
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "Show the messages of a session",
				ArgsUsage: "<session-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the stored document", Destination: &asJSON},
				},
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					id, err := sessionArg(c)
					if err != nil {
						return err
					}
					sess, err := e.store.Load(ctx, id)
					if err != nil {
						return err
					}
					w := c.Root().Writer
					if asJSON {
						return writeJSON(w, sess)
					}
					fmt.Fprintf(w, "%s\n%s (updated %s)\n\n", sess.Title, sess.ID, sess.UpdatedAt.Format("2006-01-02 15:04"))
					for _, m := range sess.Messages {
						fmt.Fprintf(w, "[%s] %s\n\n", m.Sender, m.Text)
					}
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a session",
				ArgsUsage: "<session-id>",
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					id, err := sessionArg(c)
					if err != nil {
						return err
					}
					deleted, err := e.store.Delete(ctx, id)
					if err != nil {
						return err
					}
					if !deleted {
						return goerr.Wrap(session.ErrSessionNotFound, "nothing to delete", goerr.V("id", id))
					}
					fmt.Fprintf(c.Root().Writer, "Deleted %s\n", id)
					return nil
				}),
			},
			{
				Name:      "search",
				Usage:     "Find sessions relevant to a query",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 5, Usage: "Maximum sessions", Destination: &limit},
					&cli.BoolFlag{Name: "json", Usage: "Print as JSON", Destination: &asJSON},
				},
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					query := strings.Join(c.Args().Slice(), " ")
					summaries, err := e.store.Search(ctx, query, int(limit))
					if err != nil {
						return err
					}
					w := c.Root().Writer
					if asJSON {
						return writeJSON(w, summaries)
					}
					if len(summaries) == 0 {
						fmt.Fprintln(w, "No matching sessions")
						return nil
					}
					for _, s := range summaries {
						printSummary(w, s)
					}
					return nil
				}),
			},
			{
				Name:      "chunks",
				Usage:     "Find passages relevant to a query within one session",
				ArgsUsage: "<session-id> <query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 5, Usage: "Records searched before filtering", Destination: &limit},
				},
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					if c.Args().Len() < 2 {
						return goerr.New("session id and query are required")
					}
					id := model.SessionID(c.Args().First())
					query := strings.Join(c.Args().Tail(), " ")

					hits, err := e.store.SearchChunks(ctx, id, query, int(limit))
					if err != nil {
						return err
					}
					w := c.Root().Writer
					for _, h := range hits {
						fmt.Fprintf(w, "--- chunk %d (%.3f)\n%s\n", h.Index, h.Relevance, h.Text)
					}
					return nil
				}),
			},
			{
				Name:      "reindex",
				Usage:     "Index sessions into the memory service again",
				ArgsUsage: "[session-id...]",
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					var ids []model.SessionID
					for _, arg := range c.Args().Slice() {
						ids = append(ids, model.SessionID(arg))
					}
					if len(ids) == 0 {
						summaries, err := e.store.List(ctx)
						if err != nil {
							return err
						}
						for _, s := range summaries {
							ids = append(ids, s.ID)
						}
					}
					for _, id := range ids {
						if err := e.store.Reindex(ctx, id); err != nil {
							return err
						}
					}
					fmt.Fprintf(c.Root().Writer, "Reindexed %d sessions\n", len(ids))
					return nil
				}),
			},
			{
				Name:      "title",
				Usage:     "Generate a title for a session with the model",
				ArgsUsage: "<session-id>",
				Flags: append(llmFlags(&cfg),
					&cli.BoolFlag{Name: "no-model", Usage: "Use the computed title instead of asking the model", Destination: &noModel},
				),
				Action: storeAction(func(ctx context.Context, c *cli.Command, e *env) error {
					id, err := sessionArg(c)
					if err != nil {
						return err
					}

					var title string
					if noModel {
						sess, err := e.store.Load(ctx, id)
						if err != nil {
							return err
						}
						title = session.ComputeTitle(sess.Messages, sess.CreatedAt)
						if _, err := e.store.Save(ctx, id, sess.Messages, &session.SaveInput{Title: title}); err != nil {
							return err
						}
					} else {
						llm, provider, err := cfg.newLLM(ctx)
						if err != nil {
							return err
						}
						if title, err = e.store.GenerateTitle(ctx, id, llm, provider); err != nil {
							return err
						}
					}
					fmt.Fprintln(c.Root().Writer, title)
					return nil
				}),
			},
		},
	}
}

func sessionArg(c *cli.Command) (model.SessionID, error) {
	id := c.Args().First()
	if id == "" {
		return "", goerr.New("session id is required")
	}
	return model.SessionID(id), nil
}

func printSummary(w io.Writer, s *model.SessionSummary) {
	fmt.Fprintf(w, "%s  %s  (%d messages, %s)", s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	if s.Relevance > 0 {
		fmt.Fprintf(w, "  relevance=%.3f", s.Relevance)
	}
	fmt.Fprintln(w)
	if s.Preview != "" {
		for _, line := range strings.Split(s.Preview, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/tool/builtin"
	"github.com/urfave/cli/v3"
)

func toolsCommand() *cli.Command {
	var cfg config
	candidates := builtin.Tools()

	var flags []cli.Flag
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, toolFlags(&cfg)...)
	flags = append(flags, tool.New(candidates...).Flags()...)

	registryAction := func(fn func(ctx context.Context, c *cli.Command, e *env) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			e, err := cfg.newEnv(ctx, candidates, false)
			if err != nil {
				return err
			}
			defer e.Close()
			return fn(ctx, c, e)
		}
	}

	var (
		query string
		wait  time.Duration
	)

	return &cli.Command{
		Name:  "tools",
		Usage: "Inspect the tool registry",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List loaded tools; with --query, the tools selected for it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Show the tools selected for this message", Destination: &query},
					&cli.DurationFlag{Name: "wait", Value: 5 * time.Second, Usage: "How long to wait for the memory service", Destination: &wait},
				},
				Action: registryAction(func(ctx context.Context, c *cli.Command, e *env) error {
					tools := e.registry.GetTools()
					if query != "" {
						if e.memory != nil {
							if err := waitReady(ctx, e.memory, wait); err != nil {
								return err
							}
							if _, err := e.registry.IndexTools(ctx); err != nil {
								return err
							}
						}
						tools = e.registry.SelectTools(ctx, query, int(cfg.toolK))
					}

					w := c.Root().Writer
					for _, t := range tools {
						spec := t.Spec()
						fmt.Fprintf(w, "%-28s %-12s %s\n", spec.Name, spec.Category, firstLine(spec.Description))
					}
					return nil
				}),
			},
			{
				Name:  "schema",
				Usage: "Print the function schemas of all loaded tools as JSON",
				Action: registryAction(func(ctx context.Context, c *cli.Command, e *env) error {
					return writeJSON(c.Root().Writer, e.registry.GetToolsAsSchemaArray())
				}),
			},
			{
				Name:  "index",
				Usage: "Index tools missing from the memory service",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "wait", Value: 30 * time.Second, Usage: "How long to wait for the memory service", Destination: &wait},
				},
				Action: registryAction(func(ctx context.Context, c *cli.Command, e *env) error {
					if e.memory == nil {
						return goerr.Wrap(adapter.ErrMemoryUnavailable, "memory backend is none")
					}
					if err := waitReady(ctx, e.memory, wait); err != nil {
						return err
					}
					n, err := e.registry.IndexTools(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "Indexed %d tools\n", n)
					return nil
				}),
			},
		},
	}
}

// waitReady blocks until svc reports ready or timeout passes. A zero
// timeout does not wait.
func waitReady(ctx context.Context, svc adapter.MemoryService, timeout time.Duration) error {
	ready := make(chan struct{}, 1)
	svc.AddInitializationListener(func(context.Context) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return goerr.Wrap(adapter.ErrMemoryUnavailable, "memory service did not become ready", goerr.V("timeout", timeout))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

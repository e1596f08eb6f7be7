package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// resetter is implemented by backends that can drop every namespace at once
type resetter interface {
	Reset(ctx context.Context) error
}

func memoryCommand() *cli.Command {
	var (
		cfg  config
		wait time.Duration
	)

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:        "wait",
			Usage:       "How long to wait for the memory service to become ready",
			Value:       10 * time.Second,
			Destination: &wait,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	memoryAction := func(fn func(ctx context.Context, c *cli.Command, svc adapter.MemoryService) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			e := &env{}
			svc, err := cfg.newMemory(ctx)
			if err != nil {
				return err
			}
			if svc == nil {
				return goerr.Wrap(adapter.ErrMemoryUnavailable, "memory backend is none")
			}
			e.memory = svc
			defer e.Close()

			if err := waitReady(ctx, svc, wait); err != nil {
				logging.From(ctx).Warn("memory service is not ready", logging.ErrAttr(err))
			}
			return fn(ctx, c, svc)
		}
	}

	var asJSON bool

	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and maintain the memory service",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show readiness and document counts",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print as JSON", Destination: &asJSON},
				},
				Action: memoryAction(func(ctx context.Context, c *cli.Command, svc adapter.MemoryService) error {
					status, err := svc.Status(ctx)
					if err != nil {
						return err
					}
					w := c.Root().Writer
					if asJSON {
						return writeJSON(w, status)
					}
					fmt.Fprintf(w, "backend: %s\nready:   %v\n", status.Backend, status.Ready)
					if status.Model != "" {
						fmt.Fprintf(w, "model:   %s\n", status.Model)
					}
					for _, ns := range status.Namespaces {
						fmt.Fprintf(w, "  %-12s %d\n", ns, status.DocumentCounts[ns])
					}
					return nil
				}),
			},
			{
				Name:      "clear",
				Usage:     "Remove every record in a namespace",
				ArgsUsage: "<namespace>",
				Action: memoryAction(func(ctx context.Context, c *cli.Command, svc adapter.MemoryService) error {
					ns := c.Args().First()
					if ns == "" {
						return goerr.New("namespace is required")
					}
					if err := svc.ClearNamespace(ctx, ns); err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "Cleared %s\n", ns)
					return nil
				}),
			},
			{
				Name:  "reset",
				Usage: "Remove every record in every namespace",
				Action: memoryAction(func(ctx context.Context, c *cli.Command, svc adapter.MemoryService) error {
					r, ok := svc.(resetter)
					if !ok {
						return goerr.New("backend does not support reset", goerr.V("memory", cfg.memory))
					}
					if err := r.Reset(ctx); err != nil {
						return err
					}
					fmt.Fprintln(c.Root().Writer, "Memory reset")
					return nil
				}),
			},
		},
	}
}

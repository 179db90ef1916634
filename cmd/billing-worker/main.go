// Command billing-worker runs the subscription lifecycle engine: renewals,
// trial conversions, payment retries and cancellations for non-payment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dmitrymomot/billingkit/pkg/config"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "billing-worker",
		Usage:   "Subscription lifecycle worker",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "dotenv files loaded before reading the environment (default: ./.env if present)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, config.LoadEnv(cmd.StringSlice("env-file")...)
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Process subscriptions on the configured schedule and serve ops endpoints",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runWorker(ctx, nil)
				},
			},
			{
				Name:  "once",
				Usage: "Run a single lifecycle pass and print the results",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print results as JSON",
					},
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Exit with an error when any subscription failed",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runOnce(ctx, nil, cmd.Root().Writer, cmd.Bool("json"), cmd.Bool("strict"))
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply store migrations (postgres) or create indexes (mongo)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runMigrations(ctx, nil)
				},
			},
			{
				Name:  "serve-health",
				Usage: "Serve health and metrics endpoints without processing subscriptions",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return serveHealth(ctx, nil)
				},
			},
		},
	}
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/furnace-run/furnace/internal/config"
	"github.com/furnace-run/furnace/pkg/furnace"
)

func newWatchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run addons and rescan whenever storage changes",
		Long: `Start every addon, then watch the storage locations and rescan after
changes settle. Changed addons are restarted, removed ones are stopped
and new ones are started. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runContainer(cmd.Context(), app, func(*config.Config) []furnace.Option {
				return []furnace.Option{furnace.WithWatch(true)}
			})
		},
	}
}

func newServeCommand(app *App) *cobra.Command {
	var (
		addr        string
		noWatch     bool
		strictReady bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run addons and serve metrics and health endpoints",
		Long: `Start every addon and serve Prometheus metrics on /metrics and health
checks on /live and /ready. Storage is watched unless --no-watch is set
or watch.enabled is false in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runContainer(cmd.Context(), app, func(cfg *config.Config) []furnace.Option {
				if addr == "" {
					addr = cfg.Serve.Addr
				}
				opts := []furnace.Option{furnace.WithHTTP(addr)}
				if noWatch {
					opts = append(opts, furnace.WithWatch(false))
				}
				if strictReady {
					opts = append(opts, furnace.WithStrictReadiness())
				}
				return opts
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from serve.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch storage for changes")
	cmd.Flags().BoolVar(&strictReady, "strict-ready", false, "report not ready while any addon is failed")
	return cmd
}

// runContainer runs a container until ctx ends, printing every applied scan.
func runContainer(ctx context.Context, app *App, options func(*config.Config) []furnace.Option) error {
	loaded, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	c, err := app.container(loaded.Config, options(loaded.Config)...)
	if err != nil {
		return err
	}
	registration := c.Controller().AddListener(func(result *furnace.ScanResult) {
		if result.Applied {
			printScan(app.stdout, result)
		}
	})
	defer registration.Remove()

	fmt.Fprintln(app.stdout, SubtitleStyle.Render(fmt.Sprintf("Running %d location(s), press Ctrl+C to stop", len(loaded.Locations))))
	return c.Run(ctx)
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/furnace-run/furnace/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect furnace configuration",
		Long: `Inspect furnace configuration.

Configuration is read from the first of:
  - the file given with --config
  - furnace.cue in the user config directory
  - furnace.cue in the working directory

FURNACE_* environment variables override file values.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			w := app.stdout
			fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
			fmt.Fprintln(w)
			source := SubtitleStyle.Render("(using defaults)")
			if loaded.Path != "" {
				source = loaded.Path
			}
			fmt.Fprintf(w, "%s: %s\n\n", IDStyle.Render("Config file"), source)

			row := func(key string, value any) {
				fmt.Fprintf(w, "%s: %s\n", IDStyle.Render(key), SuccessStyle.Render(fmt.Sprint(value)))
			}
			row("locations", strings.Join(loaded.Locations, ", "))
			row("state_file", loaded.StateFile)
			row("lock.wait_timeout", loaded.Lock.WaitTimeout)
			row("watch.enabled", loaded.Watch.Enabled)
			row("watch.debounce", loaded.Watch.Debounce)
			row("watch.ignore", strings.Join(loaded.Watch.Ignore, ", "))
			row("events.parallel", loaded.Events.Parallel)
			row("events.workers", loaded.Events.Workers)
			row("log.level", loaded.Log.Level)
			row("serve.addr", loaded.Serve.Addr)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(loaded.Config))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the per-user configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			dir, err := config.Dir()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, filepath.Join(dir, config.FileName))
			return nil
		},
	})

	return cfgCmd
}

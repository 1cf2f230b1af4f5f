// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the furnace CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "furnace",
		Short: "An embeddable modular container runtime",
		Long: TitleStyle.Render("furnace") + SubtitleStyle.Render(" - an embeddable modular container runtime") + `

furnace loads addons from storage locations, orders them along their
declared dependencies and starts, stops and hot-reloads them inside a
single process. Each addon is a directory ending in .addon containing an
addon.cue descriptor.

` + SubtitleStyle.Render("Examples:") + `
  furnace scan              Start every addon once and report the result
  furnace list              Show each addon and its status
  furnace deps              Show the resolved dependency order
  furnace watch             Rescan whenever storage changes
  furnace serve             Watch storage and serve metrics and health
  furnace config show       Show the effective configuration`,
		SilenceUsage: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configFile, "config", "", "config file (default is ./furnace.cue or the user config dir)")
	root.PersistentFlags().StringSliceVarP(&app.locations, "location", "l", nil, "storage location to scan (repeatable, overrides config)")
	root.PersistentFlags().StringVar(&app.stateFile, "state", "", "state file path (overrides config)")

	root.AddCommand(
		newScanCommand(app),
		newListCommand(app),
		newDepsCommand(app),
		newWatchCommand(app),
		newServeCommand(app),
		newConfigCommand(app),
	)
	return root
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI with os.Args and exits non-zero on failure.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatError(err, app.verbose))
		}),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

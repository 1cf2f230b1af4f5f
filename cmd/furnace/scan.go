// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
	"github.com/furnace-run/furnace/pkg/furnace"
)

const stopTimeout = 10 * time.Second

func newScanCommand(app *App) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Start every addon once and report the result",
		Long: `Scan the configured storage locations, start every addon in dependency
order, report what started and what failed, then stop everything again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), app, func(ctx context.Context, _ *furnace.Container, result *furnace.ScanResult) error {
				printScan(app.stdout, result)
				if strict && len(result.Failed) > 0 {
					return &ExitError{Code: 1, Err: fmt.Errorf("%d addon(s) failed to start", len(result.Failed))}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any addon fails")
	return cmd
}

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show each addon and its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), app, func(ctx context.Context, c *furnace.Container, _ *furnace.ScanResult) error {
				mods, err := c.Modules(ctx)
				if err != nil {
					return err
				}
				if len(mods) == 0 {
					fmt.Fprintln(app.stdout, SubtitleStyle.Render("No addons found."))
					return nil
				}
				fmt.Fprintln(app.stdout, renderModules(mods))
				return nil
			})
		},
	}
}

// withContainer runs fn against a started container and stops it afterwards.
func withContainer(ctx context.Context, app *App, fn func(context.Context, *furnace.Container, *furnace.ScanResult) error) error {
	loaded, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	c, err := app.container(loaded.Config, furnace.WithWatch(false))
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = c.Stop(stopCtx)
	}()

	result, err := c.Start(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, c, result)
}

func printScan(w io.Writer, result *furnace.ScanResult) {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Scan %d", result.Generation)))
	for _, d := range result.Delta.Diagnostics {
		fmt.Fprintln(w, WarningStyle.Render("  ! "+d.String()))
	}
	for _, id := range result.Started {
		fmt.Fprintf(w, "  %s %s\n", SuccessStyle.Render("✓"), IDStyle.Render(id.String()))
	}
	failed := slices.SortedFunc(maps.Keys(result.Failed), addon.CompareIDs)
	for _, id := range failed {
		fmt.Fprintf(w, "  %s %s: %v\n", ErrorStyle.Render("✗"), IDStyle.Render(id.String()), result.Failed[id])
	}
	fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d started, %d failed", len(result.Started), len(failed))))
}

func renderModules(mods []*registry.Module) string {
	rows := make([][]string, 0, len(mods))
	for _, m := range mods {
		errText := ""
		if err := m.LastError(); err != nil {
			errText = err.Error()
		}
		rows = append(rows, []string{m.ID().String(), m.Status().String(), m.Descriptor().Location, errText})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ADDON", "STATUS", "LOCATION", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle
			}
			if col == 1 && rows[row][1] == registry.StatusFailed.String() {
				return ErrorStyle
			}
			return lipgloss.NewStyle()
		}).
		String()
}

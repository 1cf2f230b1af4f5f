// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/furnace-run/furnace/internal/reconcile"
	"github.com/furnace-run/furnace/pkg/addon"
)

func newDepsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Show the resolved dependency order without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			descs, diags, err := reconcile.Discover(cmd.Context(), loaded.Locations)
			if err != nil {
				return err
			}
			for _, d := range diags {
				fmt.Fprintln(app.stdout, WarningStyle.Render("! "+d.String()))
			}
			printResolution(app.stdout, addon.Resolve(descs))
			return nil
		},
	}
}

func printResolution(w io.Writer, res *addon.Resolution) {
	fmt.Fprintln(w, TitleStyle.Render("Start order"))
	if len(res.Order) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  (none)"))
	}
	for i, id := range res.Order {
		line := fmt.Sprintf("  %d. %s", i+1, IDStyle.Render(id.String()))
		if req := res.Required[id]; len(req) > 0 {
			names := make([]string, len(req))
			for j, r := range req {
				names[j] = r.String()
			}
			line += SubtitleStyle.Render(" <- " + strings.Join(names, ", "))
		}
		fmt.Fprintln(w, line)

		opt := res.Optional[id]
		for _, name := range slices.Sorted(maps.Keys(opt)) {
			b := opt[name]
			detail := b.State.String()
			if b.State == addon.Present {
				detail += " (" + b.Target.String() + ")"
			}
			fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("       optional %s: %s", name, detail)))
		}
	}

	if len(res.Failed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Unresolved"))
		for _, id := range slices.SortedFunc(maps.Keys(res.Failed), addon.CompareIDs) {
			fmt.Fprintf(w, "  %s %s: %v\n", ErrorStyle.Render("✗"), IDStyle.Render(id.String()), res.Failed[id])
		}
	}
	for _, d := range res.Duplicates {
		fmt.Fprintln(w, WarningStyle.Render(fmt.Sprintf("! duplicate %s ignored at %s", d.ID, d.Location)))
	}
}

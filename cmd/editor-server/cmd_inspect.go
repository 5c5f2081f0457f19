package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/kb"
)

func inspectCmd() *cobra.Command {
	var warningsOnly bool

	cmd := &cobra.Command{
		Use:   "inspect <energy-system.json>",
		Short: "Load an energy system file and report its contents and validation warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			defer f.Close()
			return inspect(cmd.Context(), f, cmd.OutOrStdout(), warningsOnly)
		},
	}
	cmd.Flags().BoolVar(&warningsOnly, "warnings", false, "print validation warnings only")
	return cmd
}

func inspect(ctx context.Context, r io.Reader, out io.Writer, warningsOnly bool) error {
	store := kb.NewKnowledgeBase()
	summary, err := core.LoadEnergySystem(store, r)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	warnings := core.Validate(store)

	if !warningsOnly {
		proj, err := core.NewFlattener(newLogger()).Flatten(ctx, store)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}

		fmt.Fprintf(out, "Energy system: %s\n\n", summary.SystemID)
		fmt.Fprintf(out, "  %-12s %d\n", "areas", summary.Areas)
		fmt.Fprintf(out, "  %-12s %d\n", "assets", summary.Assets)
		fmt.Fprintf(out, "  %-12s %d\n", "ports", summary.Ports)
		fmt.Fprintf(out, "  %-12s %d\n", "carriers", summary.Carriers)
		fmt.Fprintf(out, "  %-12s %d\n", "connections", summary.Connections)

		kinds := map[string]int{}
		for _, a := range store.Assets() {
			kinds[a.Kind.String()]++
		}
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintln(out, "\nBy kind:")
		for _, k := range names {
			fmt.Fprintf(out, "  %-12s %d\n", k, kinds[k])
		}

		fmt.Fprintf(out, "\nProjection: %d assets, %d connections, %d index entries\n",
			len(proj.Assets), len(proj.Connections), len(proj.Index))
		for _, d := range summary.Dangling {
			fmt.Fprintf(out, "dangling reference %s\n", d)
		}
		for _, d := range summary.SameDirection {
			fmt.Fprintf(out, "same-direction reference %s dropped\n", d)
		}
	}

	fmt.Fprintf(out, "\nWarnings: %d\n", len(warnings))
	for _, w := range warnings {
		target := w.AssetID
		if w.PortID != "" {
			target += "/" + w.PortID
		}
		fmt.Fprintf(out, "  [%s] %s: %s\n", w.Code, target, w.Message)
	}
	return nil
}

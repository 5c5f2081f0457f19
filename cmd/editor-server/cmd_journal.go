package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/energy-network-editor/internal/journal"
)

func journalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal [model-id]",
		Short: "List journaled commands, or the journaled models when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Journal.Path == "" {
				return fmt.Errorf("journal: journal.path is not configured")
			}
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			defer func() { _ = j.Close() }()

			modelID := ""
			if len(args) == 1 {
				modelID = args[0]
			}
			return printJournal(cmd, j, modelID, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "show at most this many of the latest entries (0 for all)")
	return cmd
}

func printJournal(cmd *cobra.Command, j *journal.Journal, modelID string, limit int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if modelID == "" {
		ids, err := j.Models(ctx)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	entries, err := j.List(ctx, modelID, limit)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	writeEntries(out, entries)
	return nil
}

func writeEntries(out io.Writer, entries []journal.Entry) {
	for _, e := range entries {
		line := fmt.Sprintf("%6d  %s  v%-4d %-26s %-5s", e.Seq, e.At.Format(time.RFC3339), e.Version, e.Command, e.Outcome)
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(out, line)
	}
}

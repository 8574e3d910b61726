package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseward/forensics-cli/internal/model"
	"github.com/caseward/forensics-cli/internal/store"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect ingested sources",
	Long:  "Commands for listing and viewing forensic sources and their integrity ledgers.",
}

// -- sources list --

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		caseID, _ := cmd.Flags().GetString("case")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sources, err := st.ListSources(ctx, store.SourceFilter{
			CaseID: caseID,
			Status: model.SourceStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "sources list")
		}

		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources found.")
			return nil
		}

		formatSourcesList(os.Stdout, sources)
		return nil
	},
}

// -- sources show --

var sourcesShowCmd = &cobra.Command{
	Use:   "show <source-id>",
	Short: "Show full details of a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src, err := st.GetSource(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sources show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(src)
	},
}

// -- sources ledger --

var sourcesLedgerCmd = &cobra.Command{
	Use:   "ledger <source-id>",
	Short: "Show the integrity ledger for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.GetLedger(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sources ledger")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No ledger entries found.")
			return nil
		}

		formatLedger(os.Stdout, entries)
		return nil
	},
}

func init() {
	sourcesListCmd.Flags().String("case", "", "filter by case identifier")
	sourcesListCmd.Flags().String("status", "", "filter by status (received, extracting, extracted, analyzing, analyzed, failed)")
	sourcesListCmd.Flags().Int("limit", 50, "max number of sources to display")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesShowCmd)
	sourcesCmd.AddCommand(sourcesLedgerCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// formatSourcesList writes a tabular list of sources to w.
func formatSourcesList(out io.Writer, sources []model.ForensicSource) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCASE\tKIND\tSTATUS\tMESSAGES\tPARTICIPANTS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t--------\t------------\t-------")

	for _, s := range sources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(s.ID),
			s.CaseID,
			s.Kind,
			s.Status,
			s.MessageCount,
			s.ParticipantCount,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatLedger writes the integrity ledger to w.
func formatLedger(out io.Writer, entries []model.LedgerEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECORDED\tEVENT\tATTEMPTED\tEXTRACTED\tSKIPPED\tSHA256\tDETAIL")
	_, _ = fmt.Fprintln(w, "--------\t-----\t---------\t---------\t-------\t------\t------")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			e.RecordedAt.Format(time.RFC3339),
			e.Event,
			e.Attempted,
			e.Extracted,
			e.Skipped,
			truncateID(e.ContentSHA256),
			e.Detail,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an identifier for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

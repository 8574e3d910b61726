package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseward/forensics-cli/internal/model"
)

var (
	ingestCase string
	ingestKind string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path-or-url>",
	Short: "Ingest a communication archive into a case",
	Long:  "Registers the archive, extracts its messages, resolves participant identities, and records an integrity ledger entry. Accepts a local path or an http/https/ftp URL.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind := model.SourceKind(ingestKind)
		if !kind.Valid() {
			return eris.Errorf("unknown source kind %q (expected mailbox, message_file, backup_db, or vault)", ingestKind)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pl, err := initPipeline(st)
		if err != nil {
			return err
		}

		res, err := pl.Ingest(ctx, ingestCase, args[0], kind)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		fmt.Fprintf(os.Stdout, "Source %s extracted: %d attempted, %d extracted, %d skipped\n",
			res.Source.ID, res.Attempted, res.Extracted, res.Skipped)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCase, "case", "", "case identifier the archive belongs to")
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "", "archive format: mailbox, message_file, backup_db, or vault")
	_ = ingestCmd.MarkFlagRequired("case")
	_ = ingestCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(ingestCmd)
}

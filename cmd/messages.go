package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseward/forensics-cli/internal/model"
)

var messagesCmd = &cobra.Command{
	Use:   "messages <source-id>",
	Short: "Query extracted messages",
	Long:  "Lists messages from a source with optional time-range, participant, text, and sentiment filters.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := messageFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		msgs, err := st.GetMessages(ctx, args[0], filter)
		if err != nil {
			return eris.Wrap(err, "messages")
		}

		if len(msgs) == 0 {
			fmt.Fprintln(os.Stderr, "No messages found.")
			return nil
		}

		formatMessages(os.Stdout, msgs)
		return nil
	},
}

func messageFilterFromFlags(cmd *cobra.Command) (model.MessageFilter, error) {
	var filter model.MessageFilter

	after, _ := cmd.Flags().GetString("after")
	before, _ := cmd.Flags().GetString("before")
	if after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return filter, eris.Wrap(err, "parse --after")
		}
		filter.After = &t
	}
	if before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return filter, eris.Wrap(err, "parse --before")
		}
		filter.Before = &t
	}

	filter.Participant, _ = cmd.Flags().GetString("participant")
	filter.TextContains, _ = cmd.Flags().GetString("contains")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.Offset, _ = cmd.Flags().GetInt("offset")

	if cmd.Flags().Changed("min-sentiment") {
		v, _ := cmd.Flags().GetFloat64("min-sentiment")
		filter.MinSentiment = &v
	}
	if cmd.Flags().Changed("max-sentiment") {
		v, _ := cmd.Flags().GetFloat64("max-sentiment")
		filter.MaxSentiment = &v
	}

	return filter, nil
}

func init() {
	messagesCmd.Flags().String("after", "", "only messages sent at or after this RFC3339 time")
	messagesCmd.Flags().String("before", "", "only messages sent at or before this RFC3339 time")
	messagesCmd.Flags().String("participant", "", "only messages sent or received by this resolved identifier")
	messagesCmd.Flags().String("contains", "", "only messages whose body contains this text")
	messagesCmd.Flags().Float64("min-sentiment", 0, "only messages with sentiment at or above this value")
	messagesCmd.Flags().Float64("max-sentiment", 0, "only messages with sentiment at or below this value")
	messagesCmd.Flags().Int("limit", 100, "max number of messages to display")
	messagesCmd.Flags().Int("offset", 0, "number of messages to skip")
	rootCmd.AddCommand(messagesCmd)
}

// formatMessages writes a tabular list of messages to w.
func formatMessages(out io.Writer, msgs []model.AnnotatedMessage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSENT\tSENDER\tRECIPIENTS\tSENTIMENT\tDEL\tBODY")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----------\t---------\t---\t----")

	for _, m := range msgs {
		sent := "unknown"
		if m.SentAt != nil {
			sent = m.SentAt.Format("2006-01-02 15:04")
		}
		sentiment := ""
		if m.Annotation != nil {
			sentiment = fmt.Sprintf("%.2f", m.Annotation.Sentiment)
		}
		deleted := ""
		if m.Deleted {
			deleted = "yes"
		}
		body := strings.ReplaceAll(m.Body, "\n", " ")
		if len(body) > 40 {
			body = body[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(m.ID),
			sent,
			m.Sender,
			strings.Join(m.Recipients, ","),
			sentiment,
			deleted,
			body,
		)
	}
	_ = w.Flush()
}

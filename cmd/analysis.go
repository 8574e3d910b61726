package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseward/forensics-cli/internal/model"
)

var graphCmd = &cobra.Command{
	Use:   "graph <source-id>",
	Short: "Show the communication graph from the current analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		av, err := st.GetAnalysis(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "graph")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(av.Graph)
		}

		fmt.Fprintf(os.Stdout, "Analysis version %d (built %s)\n\n",
			av.Version, av.Graph.BuiltAt.Format("2006-01-02 15:04"))
		formatGraph(os.Stdout, av.Graph)
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts <source-id>",
	Short: "Show pattern alerts from the current analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		av, err := st.GetAnalysis(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "alerts")
		}

		if len(av.Alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts in the current analysis.")
			return nil
		}

		formatAlerts(os.Stdout, av.Alerts)
		return nil
	},
}

func init() {
	graphCmd.Flags().Bool("json", false, "emit the full graph as JSON")
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(alertsCmd)
}

// formatGraph writes node rankings and edges to w.
func formatGraph(out io.Writer, g *model.NetworkGraph) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tPARTICIPANT\tDEGREE\tMESSAGES\tCENTRALITY")
	for _, n := range g.Nodes {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.3f\n",
			n.CentralityRank, n.Participant, n.Degree, n.WeightedDegree, n.Centrality)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "EDGE\tMESSAGES\tFIRST\tLAST\tMEAN_SENTIMENT")
	for _, e := range g.Edges {
		first, last := "unknown", "unknown"
		if e.FirstContact != nil {
			first = e.FirstContact.Format("2006-01-02")
		}
		if e.LastContact != nil {
			last = e.LastContact.Format("2006-01-02")
		}
		sentiment := ""
		if e.SentimentCount > 0 {
			sentiment = fmt.Sprintf("%.2f", e.MeanSentiment)
		}
		_, _ = fmt.Fprintf(w, "%s <-> %s\t%d\t%s\t%s\t%s\n",
			e.A, e.B, e.MessageCount, first, last, sentiment)
	}
	_ = w.Flush()
}

// formatAlerts writes pattern alerts to w.
func formatAlerts(out io.Writer, alerts []model.PatternAlert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tSEVERITY\tPARTICIPANTS\tMESSAGES\tWHY")
	_, _ = fmt.Fprintln(w, "----\t--------\t------------\t--------\t---")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			a.Kind,
			a.Severity,
			strings.Join(a.Participants, ","),
			len(a.MessageIDs),
			a.Justification,
		)
	}
	_ = w.Flush()
}

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

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the append-only event log",
}

// -- events list --

var eventsListCmd = &cobra.Command{
	Use:   "list <coin-id>",
	Short: "List a coin's events, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eventType, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.EventFilter{
			EventType: model.EventType(eventType),
			Limit:     limit,
		}
		if since > 0 {
			cutoff := time.Now().UTC().Add(-since)
			filter.Since = &cutoff
		}

		events, err := svc.ListEvents(ctx, args[0], filter)
		if err != nil {
			return eris.Wrap(err, "events list")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}

		formatEventList(os.Stdout, events)
		return nil
	},
}

// -- events stats --

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show suggestion accuracy by confidence bucket",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		width, _ := cmd.Flags().GetFloat64("bucket-width")

		sum, err := svc.Summary(ctx, width)
		if err != nil {
			return eris.Wrap(err, "events stats")
		}

		formatSummary(os.Stdout, sum)
		return nil
	},
}

func init() {
	eventsListCmd.Flags().String("type", "", "filter by event type (e.g. coin.attribute_changed)")
	eventsListCmd.Flags().Duration("since", 0, "only events within this window (e.g. 24h, 168h)")
	eventsListCmd.Flags().Int("limit", 100, "max number of events to display")

	eventsStatsCmd.Flags().Float64("bucket-width", 0.1, "confidence bucket width")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsStatsCmd)
	rootCmd.AddCommand(eventsCmd)
}

// formatEventList writes a tabular event history to w.
func formatEventList(out io.Writer, events []model.DomainEvent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tEVENT\tOCCURRED\tPAYLOAD")
	_, _ = fmt.Fprintln(w, "---\t-----\t--------\t-------")

	for _, e := range events {
		payload := string(e.Payload)
		// Truncate on rune boundaries; payload values may hold non-ASCII
		// mint or issuer names.
		if r := []rune(payload); len(r) > 60 {
			payload = string(r[:57]) + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			e.Seq,
			e.EventType,
			e.OccurredAt.Format("2006-01-02 15:04:05"),
			payload,
		)
	}
	_ = w.Flush()
}

// formatSummary writes discrepancy counts and accuracy buckets to w.
func formatSummary(out io.Writer, sum model.AuditSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Open discrepancies:\t%d\n", sum.OpenDiscrepancies)
	_, _ = fmt.Fprintf(w, "Resolved accepted:\t%d\n", sum.ResolvedAccepted)
	_, _ = fmt.Fprintf(w, "Resolved rejected:\t%d\n", sum.ResolvedRejected)
	_, _ = fmt.Fprintf(w, "Total events:\t%d\n", sum.TotalEvents)
	_ = w.Flush()

	if len(sum.Accuracy.Buckets) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CONFIDENCE\tACCEPTED\tREJECTED")
	for _, b := range sum.Accuracy.Buckets {
		_, _ = fmt.Fprintf(w, "[%.2f, %.2f)\t%d\t%d\n", b.Lo, b.Hi, b.Accepted, b.Rejected)
	}
	_ = w.Flush()
}

// writeJSON is shared by commands that dump a single value.
func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

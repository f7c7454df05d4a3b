package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/service"
	"github.com/numisworks/coindex/internal/store"
)

var discrepanciesCmd = &cobra.Command{
	Use:     "discrepancies",
	Aliases: []string{"disc"},
	Short:   "Inspect and resolve audit discrepancies",
}

// -- discrepancies list --

var discrepanciesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discrepancies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		coinID, _ := cmd.Flags().GetString("coin")
		src, _ := cmd.Flags().GetString("source")
		field, _ := cmd.Flags().GetString("field")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.DiscrepancyFilter{
			CoinID: coinID,
			Status: model.DiscrepancyStatus(status),
			Source: src,
			Field:  model.FieldName(field),
			Limit:  limit,
			Offset: offset,
		}

		ds, err := svc.ListDiscrepancies(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "discrepancies list")
		}
		if len(ds) == 0 {
			fmt.Fprintln(os.Stderr, "No discrepancies found.")
			return nil
		}

		formatDiscrepancyList(os.Stdout, ds)
		return nil
	},
}

// -- discrepancies show --

var discrepanciesShowCmd = &cobra.Command{
	Use:   "show <discrepancy-id>",
	Short: "Show full details of a discrepancy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		d, err := svc.Store().GetDiscrepancy(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "discrepancies show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

// -- discrepancies resolve --

var discrepanciesResolveCmd = &cobra.Command{
	Use:   "resolve <discrepancy-id>",
	Short: "Accept or reject an open discrepancy",
	Long:  "Accepting writes the external value to the coin record; rejecting closes the discrepancy without touching the record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		decisionStr, _ := cmd.Flags().GetString("decision")
		decision, err := service.ParseDecision(decisionStr)
		if err != nil {
			return err
		}

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := svc.ResolveDiscrepancy(ctx, args[0], decision)
		if err != nil {
			return eris.Wrap(err, "discrepancies resolve")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	discrepanciesListCmd.Flags().String("status", "open", "filter by status (open, resolved_accepted, resolved_rejected, or empty for all)")
	discrepanciesListCmd.Flags().String("coin", "", "filter by coin id")
	discrepanciesListCmd.Flags().String("source", "", "filter by source name")
	discrepanciesListCmd.Flags().String("field", "", "filter by field name")
	discrepanciesListCmd.Flags().Int("limit", 50, "max number of rows to display")
	discrepanciesListCmd.Flags().Int("offset", 0, "pagination offset")

	discrepanciesResolveCmd.Flags().String("decision", "", "accept or reject (required)")
	_ = discrepanciesResolveCmd.MarkFlagRequired("decision")

	discrepanciesCmd.AddCommand(discrepanciesListCmd)
	discrepanciesCmd.AddCommand(discrepanciesShowCmd)
	discrepanciesCmd.AddCommand(discrepanciesResolveCmd)
	rootCmd.AddCommand(discrepanciesCmd)
}

// formatDiscrepancyList writes a tabular list of discrepancies to w.
func formatDiscrepancyList(out io.Writer, ds []model.Discrepancy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOIN\tFIELD\tCURRENT\tEXTERNAL\tCONF\tSOURCE\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t--------\t----\t------\t------")

	for _, d := range ds {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			truncateID(d.ID),
			truncateID(d.CoinID),
			d.Field,
			truncateValue(deref(d.CurrentValue)),
			truncateValue(deref(d.ExternalValue)),
			d.Confidence,
			d.Source,
			d.Status,
		)
	}
	_ = w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateValue(v string) string {
	if len(v) > 24 {
		return v[:21] + "..."
	}
	return v
}

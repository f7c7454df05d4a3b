package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/numisworks/coindex/internal/model"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Apply or reject field corrections",
}

// -- enrich apply --

var enrichApplyCmd = &cobra.Command{
	Use:   "apply <coin-id>",
	Short: "Apply a field value to a coin record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		field, _ := cmd.Flags().GetString("field")
		value, _ := cmd.Flags().GetString("value")
		srcType, _ := cmd.Flags().GetString("source-type")

		fieldName, err := model.ParseField(field)
		if err != nil {
			return err
		}

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res := svc.ApplyEnrichment(ctx, model.EnrichmentApplication{
			CoinID:     args[0],
			Field:      fieldName,
			NewValue:   value,
			SourceType: model.SourceType(srcType),
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return eris.Errorf("enrich apply failed: %s", res.Error)
		}
		return nil
	},
}

// -- enrich reject --

var enrichRejectCmd = &cobra.Command{
	Use:   "reject <discrepancy-id>",
	Short: "Reject the suggestion carried by an open discrepancy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := svc.RejectEnrichment(ctx, args[0]); err != nil {
			return eris.Wrap(err, "enrich reject")
		}
		return nil
	},
}

func init() {
	enrichApplyCmd.Flags().String("field", "", "field to set (required)")
	enrichApplyCmd.Flags().String("value", "", "value to write (required)")
	enrichApplyCmd.Flags().String("source-type", string(model.SourceManual), "provenance source type (catalog, audit, manual, llm)")
	_ = enrichApplyCmd.MarkFlagRequired("field")
	_ = enrichApplyCmd.MarkFlagRequired("value")

	enrichCmd.AddCommand(enrichApplyCmd)
	enrichCmd.AddCommand(enrichRejectCmd)
	rootCmd.AddCommand(enrichCmd)
}

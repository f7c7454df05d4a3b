package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	auditCoinID string
	auditAll    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit coin records against external sources",
	Long:  "Fetches external data for one coin or the whole collection, runs the discrepancy strategies and records new open discrepancies.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if (auditCoinID == "") == (!auditAll) {
			return eris.New("exactly one of --id or --all is required")
		}

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if auditCoinID != "" {
			res, err := svc.RunAudit(ctx, auditCoinID)
			if err != nil {
				return eris.Wrapf(err, "audit %s", auditCoinID)
			}
			return enc.Encode(res)
		}

		batch, err := svc.RunAuditAll(ctx)
		if err != nil {
			return eris.Wrap(err, "audit all")
		}
		zap.L().Info("audit batch complete",
			zap.Int("processed", batch.Processed),
			zap.Int("succeeded", batch.Succeeded),
			zap.Int("failed", batch.Failed),
			zap.Int("auto_applied", batch.AutoApplied),
		)
		if err := enc.Encode(batch); err != nil {
			return err
		}
		if batch.Failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d records failed\n", batch.Failed, batch.Processed)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditCoinID, "id", "", "audit a single coin by id")
	auditCmd.Flags().BoolVar(&auditAll, "all", false, "audit every coin in the store")
	rootCmd.AddCommand(auditCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coindex",
	Short: "Numismatic collection audit and enrichment engine",
	Long:  "Audits coin records against catalog, auction and model-suggested data, tracks discrepancies, and applies accepted corrections with full event attribution.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

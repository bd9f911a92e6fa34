package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kyc-engine",
	Short: "Identity verification pipeline",
	Long:  "Runs KYC verification sessions through document extraction, field validation, contact confirmation, and risk scoring, and commits approved outcomes as privacy-preserving attestations.",
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/config"
)

var (
	cfg      *config.Config
	callerID string
)

var rootCmd = &cobra.Command{
	Use:   "visa-pipeline",
	Short: "US visa recommendation pipeline",
	Long:  "Extracts facts from an applicant narrative, ranks candidate US visas, asks follow-up questions and produces a final recommendation.",
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
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&callerID, "user", os.Getenv("VISA_USER"), "caller identity that owns submissions")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/wardseg/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "wardseg",
	Short: "Split a road network into ward-assigned segments",
	Long:  "Fetches a district's roads from OpenStreetMap, splits them at ward boundaries, tags each piece with its ward and nearby postcodes, and writes GeoJSON (optionally PostGIS).",
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

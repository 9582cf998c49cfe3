package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pointdash",
	Short: "pointdash - point a display at a map target",
	Long: `pointdash reads GPS fixes and compass headings and drives a direction
overlay on every connected display: the target's name and category, the
live distance to it and an arrow pointing at it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "/etc/pointdash/config.yaml", "Path to config file")
	serveCmd.Flags().BoolVar(&demo, "demo", false, "Run with simulated GPS and compass data")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")

	bearingCmd.Flags().Float64Var(&north, "north", 0, "Device heading in degrees; negative means unknown")
	bearingCmd.Flags().StringVar(&units, "units", "metric", "Distance units: metric or imperial")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bearingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command fp16ctl runs the FP16 demotion pipeline and its parsers from the
// command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryanwahyu/fp16-analyzer/internal/config"
	"github.com/bryanwahyu/fp16-analyzer/internal/logger"
)

var (
	configPath string
	verbose    bool

	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "fp16ctl",
	Short:         "Analyze C/C++ sources for float to __fp16 demotion",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := logger.New(level, "console")
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sanitizeCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

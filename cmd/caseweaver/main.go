// caseweaver generates formally modeled mystery cases through a staged LLM
// pipeline with structural validation, bounded auto-revision, and a novelty
// gate against previously generated cases.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagConfig string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:   "caseweaver",
	Short: "Generate structured mystery cases through a validated LLM pipeline",
	Long: `caseweaver chains content-generation stages (cast, profiles, locations,
timeline, case model, outline, prose, clue report), validates the formal
case model against a declarative schema with bounded auto-revision, and
scores the result against reference cases to prevent near-duplication.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "caseweaver.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(referenceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildLogger builds the process logger. Debug mode switches to the
// development config with full debug output, mirroring the config level
// otherwise.
func buildLogger(level string) (*zap.Logger, error) {
	if flagDebug {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

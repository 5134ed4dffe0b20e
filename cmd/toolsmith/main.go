// Package main is the toolsmith CLI: it designs, validates and inspects
// generated tools from the command line.
//
// Usage:
//
//	toolsmith generate -f spec.yaml   # synthesize, validate and repair a tool
//	toolsmith validate --dir ./tool   # validate an existing tool directory
//	toolsmith strategy -f spec.yaml   # show which strategy a spec selects
//	toolsmith version
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"toolsmith/internal/config"
	"toolsmith/internal/logging"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	templateOnly bool
	modelName    string
	timeout      time.Duration

	// Logger
	logger *zap.Logger

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "toolsmith",
	Short: "toolsmith - generate and validate tool modules in a sandbox",
	Long: `toolsmith turns a tool specification into a small Go module.

It picks a synthesis strategy, renders or generates the code, runs the
module's tests with coverage inside an isolated container, and repairs
failures up to a fixed number of attempts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded

		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Use(logger, cfg.Logging.Categories)
		logging.Get(logging.CategoryBoot).Debug("config loaded from %s", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads the config file and applies flag overrides. Flags only
// win when they were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loaded, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("template-only") {
		loaded.Repair.TemplateOnly = templateOnly
	}
	if flags.Changed("model") {
		loaded.LLM.Model = modelName
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}

	// Only generate talks to the model, so only generate needs a key.
	check := *loaded
	if cmd != generateCmd {
		check.Repair.TemplateOnly = true
	}
	if err := check.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return loaded, nil
}

func buildLogger(lc config.LoggingConfig, debug bool) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if lc.Format != "json" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zapConfig.DisableStacktrace = true
	zapConfig.OutputPaths = []string{"stderr"}
	if lc.File != "" {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, lc.File)
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(lc.Level))); err != nil || lc.Level == "" {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	if debug {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zapConfig.Level = level

	return zapConfig.Build()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", filepath.Join(".toolsmith", "config.yaml"), "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&templateOnly, "template-only", false, "Never call the model; fall back to minimal implementations")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "Model identifier (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall operation timeout")

	rootCmd.AddCommand(
		generateCmd,
		validateCmd,
		strategyCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Kestrel - Financial crime alert analysis.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/narrative"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	cfg     *domain.Config
	logger  *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "kestrel",
		Short: "Financial crime alert analysis service",
		Long: `Kestrel screens compliance alerts against static AML rules and asks a
language model for a structured risk analysis or a SAR narrative.

Running kestrel with no subcommand starts the HTTP server.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
		RunE:              runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./kestrel.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// CLI output owns stdout for analyze.
	logOut := os.Stdout
	if cmd.Name() == "analyze" {
		logOut = os.Stderr
	}

	l, err := config.NewLogger(loaded.Logging, logOut)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(l)

	cfg = loaded
	logger = l
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

// core is the request path shared by the server and the CLI.
type core struct {
	audit     *audit.Log
	engine    *rules.Engine
	cache     domain.Cache
	processor *pipeline.Processor
}

func (c *core) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Error("failed to close cache", "error", err)
		}
	}
}

// buildCore wires the audit log, rule engine, model clients, cache and
// processor.
func buildCore(cfg *domain.Config) (*core, error) {
	auditLog := audit.New()

	engine, err := rules.NewEngine(auditLog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if cfg.Rules.File != "" {
		n, err := rules.LoadFileInto(engine, cfg.Rules.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules file: %w", err)
		}
		logger.Info("rules file loaded", "file", cfg.Rules.File, "rules", n)
	}
	logger.Info("rule engine initialized", "rules_count", engine.RulesCount())

	analysisClient, err := llm.NewClient(cfg.LLM.AnalysisProvider, cfg.LLM)
	if err != nil {
		return nil, err
	}
	narrativeClient, err := llm.NewClient(cfg.LLM.NarrativeProvider, cfg.LLM)
	if err != nil {
		return nil, err
	}

	analysisCache, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	opts := []analysis.Option{analysis.WithLogger(logger)}
	if analysisCache != nil {
		opts = append(opts, analysis.WithCache(analysisCache, cfg.Cache.AnalysisTTL))
	}
	analyzer := analysis.NewAnalyzer(llm.Instrument(analysisClient, llm.PurposeAnalysis), opts...)

	gen := narrative.NewGenerator(llm.Instrument(narrativeClient, llm.PurposeNarrative), nil, auditLog, logger)

	logger.Info("model providers configured",
		"analysis", analysisClient.Provider(),
		"narrative", narrativeClient.Provider(),
		"cache", cfg.Cache.Type,
	)

	return &core{
		audit:     auditLog,
		engine:    engine,
		cache:     analysisCache,
		processor: pipeline.NewProcessor(engine, analyzer, gen, auditLog, logger),
	}, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RedClaus/TermAi-sub001/internal/analytics"
	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/framework"
	"github.com/RedClaus/TermAi-sub001/internal/llm"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
	"github.com/RedClaus/TermAi-sub001/internal/orchestrator"
	"github.com/RedClaus/TermAi-sub001/internal/sandbox"
	"github.com/RedClaus/TermAi-sub001/internal/session"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "termai",
	Short: "TermAI - cognitive framework orchestration engine",
	Long: `TermAI picks a multi-phase reasoning framework for a problem, drives it
through its phases while tracking steps and confidence, recovers from
failures, and learns which framework works best for which kind of
problem over time.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg = zap.NewDevelopmentConfig()
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		if configPath == "" {
			configPath = filepath.Join(workspace, ".termai", "config.yaml")
		}
		cfg, err = config.Load(configPath, workspace)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
		}
		return logging.Initialize(workspace, logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// analyzeCmd is a selector dry-run: score a message without executing.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [message]",
	Short: "Score framework candidates for a message without executing",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

// runCmd executes a framework against a problem.
var runCmd = &cobra.Command{
	Use:   "run [problem]",
	Short: "Run a reasoning framework against a problem",
	Long: `Selects a framework for the problem (or uses --framework), executes it to
completion, and records the outcome in analytics.

Examples:
  termai run "set up a postgres container with a healthcheck"
  termai run --framework ooda "docker build is failing, help me debug"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFramework,
}

// statsCmd reports the analytics aggregates.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-framework success statistics",
	RunE:  showStats,
}

var (
	intentFlag    string
	frameworkFlag string
	sessionFlag   string
	lastErrorFlag bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: <workspace>/.termai/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	analyzeCmd.Flags().StringVar(&intentFlag, "intent", "", "Classified intent (debugging, task_execution, explanation, ...)")
	analyzeCmd.Flags().BoolVar(&lastErrorFlag, "last-error", false, "Treat the context as having a recent error")

	runCmd.Flags().StringVar(&intentFlag, "intent", "", "Classified intent")
	runCmd.Flags().StringVar(&frameworkFlag, "framework", "", "Framework id (skip selection)")
	runCmd.Flags().StringVar(&sessionFlag, "session", "", "Session id (default: generated)")
	runCmd.Flags().BoolVar(&lastErrorFlag, "last-error", false, "Treat the context as having a recent error")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildEngine wires the orchestrator and its services from config.
func buildEngine(ctx context.Context) (*orchestrator.Orchestrator, *session.Store, *analytics.Store, error) {
	client, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, nil, err
	}

	sessions := session.NewStore(cfg.Framework.HistoryLimit)
	analyticsStore := analytics.NewStore(cfg.Analytics)
	runner := sandbox.NewRunner(cfg.Execution)

	o := orchestrator.New(sessions, analyticsStore, client, runner,
		orchestrator.WithConfig(cfg.Framework),
		orchestrator.WithProgressSink(consoleSink{}),
	)
	return o, sessions, analyticsStore, nil
}

// consoleSink prints live step progress.
type consoleSink struct{}

func (consoleSink) StepAdded(sessionID string, step framework.Step) {
	fmt.Printf("  [%s] %s\n", step.Phase, step.Thought)
	if step.Action != "" {
		fmt.Printf("    $ %s\n", step.Action)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	message := args[0]
	analyticsStore := analytics.NewStore(cfg.Analytics)
	registry := framework.NewRegistry()
	sessions := session.NewStore(cfg.Framework.HistoryLimit)
	defer sessions.Close()

	o := orchestrator.New(sessions, analyticsStore, nil, nil,
		orchestrator.WithRegistry(registry),
		orchestrator.WithConfig(cfg.Framework),
	)

	analysis := o.AnalyzeMessage(message, "analyze", intentFlag, framework.SelectionContext{
		LastError: lastErrorFlag,
	})

	fmt.Printf("Message: %q (intent=%q)\n\n", message, intentFlag)
	for i, c := range analysis.Candidates {
		marker := " "
		if i == 0 && analysis.Activate {
			marker = "*"
		}
		fmt.Printf("%s %-20s %.3f  %s\n", marker, c.Framework, c.Confidence, c.Reason)
	}
	if analysis.Activate {
		fmt.Printf("\nWould activate %s (threshold %.2f)\n", analysis.Best.Framework, cfg.Framework.ActivationThreshold)
	} else {
		fmt.Printf("\nNo candidate clears the activation threshold (%.2f)\n", cfg.Framework.ActivationThreshold)
	}
	return nil
}

func runFramework(cmd *cobra.Command, args []string) error {
	problem := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	o, sessions, _, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer sessions.Close()

	sessionID := sessionFlag
	if sessionID == "" {
		sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
	}

	frameworkID := frameworkFlag
	if frameworkID == "" {
		analysis := o.AnalyzeMessage(problem, sessionID, intentFlag, framework.SelectionContext{
			LastError: lastErrorFlag,
		})
		if !analysis.Activate {
			return fmt.Errorf("no framework clears the activation threshold for %q; pass --framework", problem)
		}
		frameworkID = analysis.Best.Framework
		logger.Info("framework selected",
			zap.String("framework", frameworkID),
			zap.Float64("confidence", analysis.Best.Confidence))
	}

	if err := o.StartFramework(sessionID, frameworkID, problem, intentFlag); err != nil {
		return err
	}

	fmt.Printf("Running %s on: %s\n\n", frameworkID, problem)
	result, runErr := o.Execute(ctx, sessionID)
	if result == nil {
		return runErr
	}

	fmt.Printf("\nStatus:     %s\n", result.Status)
	fmt.Printf("Steps:      %d\n", len(result.Steps))
	fmt.Printf("Confidence: %.2f\n", result.AvgConfidence)
	fmt.Printf("Duration:   %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Summary:    %s\n", result.Summary)
	if len(result.NextSteps) > 0 {
		fmt.Println("Next steps:")
		for _, next := range result.NextSteps {
			fmt.Printf("  - %s\n", next)
		}
	}
	return runErr
}

func showStats(cmd *cobra.Command, args []string) error {
	analyticsStore := analytics.NewStore(cfg.Analytics)

	stats := analyticsStore.Stats()
	if len(stats) == 0 {
		fmt.Println("No executions recorded yet.")
		return nil
	}

	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-20s %6s %6s %6s %8s\n", "FRAMEWORK", "TOTAL", "OK", "FAIL", "RATE")
	for _, id := range ids {
		s := stats[id]
		rate := 0.0
		if s.Total > 0 {
			rate = float64(s.Successes) / float64(s.Total)
		}
		fmt.Printf("%-20s %6d %6d %6d %7.0f%%\n", id, s.Total, s.Successes, s.Failures, rate*100)
	}

	records := analyticsStore.Records()
	fmt.Printf("\n%d executions in log", len(records))
	if len(records) > 0 {
		fmt.Printf(" (latest: %s)", records[len(records)-1].Timestamp.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

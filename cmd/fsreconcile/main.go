package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/schaermu/fsreconcile/internal/config"
	"github.com/schaermu/fsreconcile/internal/fsys"
	"github.com/schaermu/fsreconcile/internal/reconcile"
	"github.com/schaermu/fsreconcile/internal/report"
	"github.com/schaermu/fsreconcile/internal/runner"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	logLevel  string
	logFormat string
	dryRun    bool

	// Apply command flags
	applyPath   string
	applyState  string
	applyNested bool

	// Run command flags
	taskFile   string
	reportFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fsreconcile",
	Short: "Converge filesystem paths to a declared state",
	Long: `fsreconcile ensures that paths are a regular file, a directory, or absent.

Each reconciliation inspects the path, performs the minimal mutation needed and
reports whether anything changed together with a before/after diff. Use
--dry-run to see what would change without touching the filesystem.`,
	SilenceUsage: true,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile a single path",
	Long: `Apply converges one path to the requested state and prints the result as JSON.

On failure a JSON object with "failed": true and a message is printed instead
and the command exits non-zero.`,
	RunE: runApply,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile every task in a task file or directory",
	Long: `Run loads task files (YAML, TOML, or JSON with comments) and reconciles
their tasks in order. The run stops at the first failing task.

When given a directory, all task files below it are loaded in lexical order.`,
	RunE: runTasks,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fsreconcile %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Apply command flags
	applyCmd.Flags().StringVar(&applyPath, "path", "", "path to reconcile (required)")
	applyCmd.Flags().StringVar(&applyState, "state", "", "desired state: file, directory, or absent (required)")
	applyCmd.Flags().BoolVar(&applyNested, "nested", false, "create missing parent directories")
	addDryRunFlag(applyCmd.Flags())
	_ = applyCmd.MarkFlagRequired("path")
	_ = applyCmd.MarkFlagRequired("state")

	// Run command flags
	runCmd.Flags().StringVarP(&taskFile, "file", "f", "", "task file or directory of task files (required)")
	runCmd.Flags().StringVar(&reportFile, "report", "", "write the run report to this path (.json, .yaml, or .yml)")
	addDryRunFlag(runCmd.Flags())
	_ = runCmd.MarkFlagRequired("file")

	// Add commands
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func addDryRunFlag(flags *pflag.FlagSet) {
	flags.BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
}

func runApply(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	state, err := reconcile.ParseState(applyState)
	if err != nil {
		return writeFailure(cmd, err)
	}

	req := reconcile.Request{
		Path:   config.ExpandPath(applyPath),
		State:  state,
		Nested: applyNested,
	}
	if err := req.Validate(); err != nil {
		return writeFailure(cmd, err)
	}

	engine := reconcile.NewEngine(fsys.NewOS(), logger, dryRun)
	res, err := engine.Handle(req)
	if err != nil {
		logger.Error("reconciliation failed", "path", req.Path, "error", report.Message(err))
		return writeFailure(cmd, err)
	}

	return report.WriteResult(cmd.OutOrStdout(), res)
}

// writeFailure prints the failure JSON and returns err so the process exits non-zero.
func writeFailure(cmd *cobra.Command, err error) error {
	if werr := report.WriteFailure(cmd.OutOrStdout(), err); werr != nil {
		return fmt.Errorf("failed to write failure: %w", werr)
	}
	return err
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadTasks(logger)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	engine := reconcile.NewEngine(fsys.NewOS(), logger, dryRun)
	rep, runErr := runner.New(cfg, engine, logger).Run(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "ok=%d changed=%d failed=%d skipped=%d\n",
		rep.Summary.OK, rep.Summary.Changed, rep.Summary.Failed, rep.Summary.Skipped)

	if reportFile != "" {
		if err := rep.Save(reportFile); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		logger.Info("report written", "path", reportFile)
	}

	return runErr
}

func loadTasks(logger *slog.Logger) (*config.Config, error) {
	logger.Info("loading tasks", "path", taskFile)

	cfg, files, err := config.LoadAll(taskFile)
	if err != nil {
		return nil, err
	}

	logger.Debug("tasks loaded",
		"files", len(files),
		"tasks", len(cfg.Tasks))

	return cfg, nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr, stdout carries results
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

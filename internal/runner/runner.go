package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/fsreconcile/internal/config"
	"github.com/schaermu/fsreconcile/internal/reconcile"
	"github.com/schaermu/fsreconcile/internal/report"
)

// Handler performs a single reconciliation
type Handler interface {
	// Handle converges req.Path to req.State
	Handle(req reconcile.Request) (reconcile.Result, error)
	// DryRun reports whether mutations are skipped
	DryRun() bool
}

// Runner executes the tasks of a configuration in order
type Runner struct {
	cfg     *config.Config
	handler Handler
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new runner
func New(cfg *config.Config, handler Handler, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes every task and returns the run report.
//
// The run stops at the first failing task; the remaining tasks are recorded
// as skipped. Cancellation is checked between tasks only, so a task that has
// started always completes. The report is returned even when err is non-nil.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	rep := &report.Report{
		StartedAt: r.now(),
		DryRun:    r.handler.DryRun(),
	}
	defer func() {
		rep.FinishedAt = r.now()
	}()

	r.logger.Info("starting run",
		"tasks", len(r.cfg.Tasks),
		"dry_run", rep.DryRun)

	for i, task := range r.cfg.Tasks {
		if err := ctx.Err(); err != nil {
			r.skipFrom(rep, i)
			return rep, fmt.Errorf("run interrupted before task %q: %w", task.Name, err)
		}

		req := task.Request()
		entry := report.TaskResult{
			Name:   task.Name,
			Source: task.Source,
			Path:   req.Path,
			State:  req.State,
			Nested: req.Nested,
		}

		res, err := r.handler.Handle(req)
		if err != nil {
			failure := report.NewFailure(err)
			entry.Failure = &failure
			rep.Add(entry)
			r.logger.Error("task failed", "task", task.Name, "error", failure.Msg)
			r.skipFrom(rep, i+1)
			r.logSummary(rep)
			return rep, fmt.Errorf("task %q failed: %w", task.Name, err)
		}

		entry.Result = &res
		rep.Add(entry)
		r.logger.Info("task completed",
			"task", task.Name,
			"path", req.Path,
			"state", req.State,
			"changed", res.Changed)
	}

	r.logSummary(rep)
	return rep, nil
}

// skipFrom records tasks[start:] as skipped
func (r *Runner) skipFrom(rep *report.Report, start int) {
	for _, task := range r.cfg.Tasks[start:] {
		req := task.Request()
		rep.Add(report.TaskResult{
			Name:    task.Name,
			Source:  task.Source,
			Path:    req.Path,
			State:   req.State,
			Nested:  req.Nested,
			Skipped: true,
		})
		r.logger.Debug("task skipped", "task", task.Name)
	}
}

func (r *Runner) logSummary(rep *report.Report) {
	r.logger.Info("run summary",
		"ok", rep.Summary.OK,
		"changed", rep.Summary.Changed,
		"failed", rep.Summary.Failed,
		"skipped", rep.Summary.Skipped)
	if rep.DryRun {
		r.logger.Info("dry-run complete, no changes applied")
	}
}

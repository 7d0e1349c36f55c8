// Package reconcile converges a single filesystem path to a desired state.
//
// A reconciliation inspects the path, builds a before/after diff and performs
// at most one mutation through an [fsys.Filesystem]. Repeating a call once the
// path has converged performs no mutation and reports Changed=false.
//
// In dry-run mode every branch that would mutate reports Changed=true without
// checking whether the mutation would succeed. A dry-run can therefore
// predict a change that a real run rejects, for example a missing parent
// with nested creation disabled.
package reconcile

import (
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/jmgilman/go/errors"

	"github.com/schaermu/fsreconcile/internal/fsys"
)

// Engine performs reconciliations against a filesystem.
type Engine struct {
	fs     fsys.Filesystem
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates an engine. A nil logger discards all output.
func NewEngine(filesystem fsys.Filesystem, logger *slog.Logger, dryRun bool) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		fs:     filesystem,
		logger: logger,
		dryRun: dryRun,
	}
}

// DryRun reports whether the engine skips mutations.
func (e *Engine) DryRun() bool {
	return e.dryRun
}

// Handle routes req to the operation for its desired state.
func (e *Engine) Handle(req Request) (Result, error) {
	switch req.State {
	case StateFile:
		return e.EnsureFile(req.Path, req.Nested)
	case StateDirectory:
		return e.EnsureDirectory(req.Path, req.Nested)
	case StateAbsent:
		return e.EnsureAbsent(req.Path)
	default:
		// Unreachable for validated requests.
		return Result{Changed: false}, nil
	}
}

// EnsureFile makes path an (empty, if created) file. Missing parents are
// created only when nested is set. An existing directory is a conflict.
func (e *Engine) EnsureFile(path string, nested bool) (Result, error) {
	target, current, err := e.inspect(path)
	if err != nil {
		return Result{}, err
	}
	diff := BuildDiff(path, StateFile, current)

	switch current {
	case StateAbsent:
		if e.dryRun {
			return e.predict("create file", path, diff), nil
		}
		if nested {
			if err := e.fs.Mkdir(filepath.Dir(target), true); err != nil {
				return Result{}, ioError(OpCreateFile, path, err)
			}
		}
		if err := e.fs.CreateFile(target); err != nil {
			return Result{}, createError(OpCreateFile, path, nested, err)
		}
		e.logger.Debug("created file", "path", path, "nested", nested)
		return changed(path, diff), nil

	case StateDirectory:
		return Result{}, conflictError(OpCreateFile, path, "path is directory")

	case StateFile:
		e.logger.Debug("path converged", "path", path, "state", current)
		return unchanged(path, diff), nil
	}
	return Result{}, unexpectedState(path, current)
}

// EnsureDirectory makes path a directory. Missing parents are created only
// when nested is set.
//
// An existing file at path is left in place and reported as unchanged; the
// diff still shows file -> directory. This differs from EnsureFile, which
// rejects an existing directory.
func (e *Engine) EnsureDirectory(path string, nested bool) (Result, error) {
	target, current, err := e.inspect(path)
	if err != nil {
		return Result{}, err
	}
	diff := BuildDiff(path, StateDirectory, current)

	switch current {
	case StateAbsent:
		if e.dryRun {
			return e.predict("create directory", path, diff), nil
		}
		if err := e.fs.Mkdir(target, nested); err != nil {
			return Result{}, createError(OpCreateDirectory, path, nested, err)
		}
		e.logger.Debug("created directory", "path", path, "nested", nested)
		return changed(path, diff), nil

	case StateFile:
		e.logger.Warn("file occupies directory path, leaving it in place", "path", path)
		return unchanged(path, diff), nil

	case StateDirectory:
		e.logger.Debug("path converged", "path", path, "state", current)
		return unchanged(path, diff), nil
	}
	return Result{}, unexpectedState(path, current)
}

// EnsureAbsent removes path. Directories are removed recursively.
func (e *Engine) EnsureAbsent(path string) (Result, error) {
	target, current, err := e.inspect(path)
	if err != nil {
		return Result{}, err
	}
	diff := BuildDiff(path, StateAbsent, current)

	switch current {
	case StateDirectory:
		if e.dryRun {
			return e.predict("delete directory", path, diff), nil
		}
		if err := e.fs.RemoveTree(target); err != nil {
			return Result{}, ioError(OpDeleteDirectory, path, err)
		}
		e.logger.Debug("deleted directory", "path", path)
		return changed(path, diff), nil

	case StateFile:
		if e.dryRun {
			return e.predict("delete file", path, diff), nil
		}
		if err := e.fs.RemoveFile(target); err != nil {
			return Result{}, ioError(OpDeleteFile, path, err)
		}
		e.logger.Debug("deleted file", "path", path)
		return changed(path, diff), nil

	case StateAbsent:
		e.logger.Debug("path converged", "path", path, "state", current)
		return unchanged(path, diff), nil
	}
	return Result{}, unexpectedState(path, current)
}

// inspect resolves path to an absolute target and classifies it.
func (e *Engine) inspect(path string) (string, State, error) {
	target, err := filepath.Abs(path)
	if err != nil {
		return "", 0, ioError(OpInspect, path, err)
	}
	current, err := Inspect(e.fs, target)
	if err != nil {
		return "", 0, err
	}
	return target, current, nil
}

func (e *Engine) predict(action, path string, diff Diff) Result {
	e.logger.Info("[dry-run] would "+action, "path", path)
	return changed(path, diff)
}

func createError(op Operation, path string, nested bool, err error) error {
	if !nested && errors.Is(err, fs.ErrNotExist) {
		return missingParentError(op, path, err)
	}
	return ioError(op, path, err)
}

func unexpectedState(path string, s State) error {
	return errors.Newf(errors.CodeInternal, "unexpected state %s for %s", s, path)
}

func changed(path string, diff Diff) Result {
	return Result{Changed: true, Path: path, Diff: &diff}
}

func unchanged(path string, diff Diff) Result {
	return Result{Changed: false, Path: path, Diff: &diff}
}

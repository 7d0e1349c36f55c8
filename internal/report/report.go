// Package report renders reconciliation outcomes for callers: the JSON
// contract printed by a single apply, and the run report persisted after a
// task run.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/fsreconcile/internal/reconcile"
)

// Failure is printed instead of a result when a reconciliation aborts.
type Failure struct {
	Failed  bool                   `json:"failed" yaml:"failed"`
	Msg     string                 `json:"msg" yaml:"msg"`
	Code    string                 `json:"code,omitempty" yaml:"code,omitempty"`
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// NewFailure converts err into a Failure.
func NewFailure(err error) Failure {
	resp := errors.ToJSON(err)
	return Failure{
		Failed:  true,
		Msg:     Message(err),
		Code:    resp.Code,
		Context: resp.Context,
	}
}

// Message returns the human-readable text of err without the code prefix.
func Message(err error) string {
	var perr errors.PlatformError
	if !errors.As(err, &perr) {
		return err.Error()
	}
	if cause := perr.Unwrap(); cause != nil {
		return perr.Message() + ": " + cause.Error()
	}
	return perr.Message()
}

// WriteResult prints res as indented JSON.
func WriteResult(w io.Writer, res reconcile.Result) error {
	return writeJSON(w, res)
}

// WriteFailure prints err as a Failure in indented JSON.
func WriteFailure(w io.Writer, err error) error {
	return writeJSON(w, NewFailure(err))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TaskResult is the outcome of one task in a run.
type TaskResult struct {
	Name    string            `json:"name" yaml:"name"`
	Source  string            `json:"source,omitempty" yaml:"source,omitempty"`
	Path    string            `json:"path" yaml:"path"`
	State   reconcile.State   `json:"state" yaml:"state"`
	Nested  bool              `json:"nested" yaml:"nested"`
	Skipped bool              `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Result  *reconcile.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Failure *Failure          `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// Summary counts task outcomes.
type Summary struct {
	OK      int `json:"ok" yaml:"ok"`
	Changed int `json:"changed" yaml:"changed"`
	Failed  int `json:"failed" yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Report describes a complete task run.
type Report struct {
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
	DryRun     bool         `json:"dry_run" yaml:"dry_run"`
	Summary    Summary      `json:"summary" yaml:"summary"`
	Tasks      []TaskResult `json:"tasks" yaml:"tasks"`
}

// Add appends a task outcome and updates the summary.
func (r *Report) Add(tr TaskResult) {
	switch {
	case tr.Failure != nil:
		r.Summary.Failed++
	case tr.Skipped:
		r.Summary.Skipped++
	case tr.Result != nil && tr.Result.Changed:
		r.Summary.Changed++
	default:
		r.Summary.OK++
	}
	r.Tasks = append(r.Tasks, tr)
}

// Failed reports whether any task failed.
func (r *Report) Failed() bool {
	return r.Summary.Failed > 0
}

// Marshal encodes the report as JSON or YAML depending on the extension of path.
func (r *Report) Marshal(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ".yaml", ".yml":
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("unsupported report extension %q (use .json, .yaml, or .yml)", filepath.Ext(path))
	}
}

// Save writes the report to path atomically, creating the parent directory.
func (r *Report) Save(path string) error {
	data, err := r.Marshal(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

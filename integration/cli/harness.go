//go:build integration

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/fsreconcile/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the fsreconcile binary once and runs it against a scratch directory
type Harness struct {
	t      *testing.T
	binary string
	Root   string
}

// NewHarness creates a new test harness with an empty scratch root
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:    t,
		Root: t.TempDir(),
	}
}

// Build compiles the binary into a temporary directory
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.t.TempDir(), "fsreconcile")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/fsreconcile")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Path returns rel joined onto the scratch root
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.Root, filepath.FromSlash(rel))
}

// Exec runs the binary and returns stdout, stderr and the exit code
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// Apply runs a single apply and decodes the JSON it prints
func (h *Harness) Apply(ctx context.Context, args ...string) (map[string]interface{}, int) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, append([]string{"apply", "--log-level", "error"}, args...)...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		h.t.Fatalf("apply printed invalid JSON: %v\nstdout: %s\nstderr: %s", err, stdout, stderr)
	}
	return out, exitCode
}

// MustExec runs the binary and fails the test on a non-zero exit
func (h *Harness) MustExec(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

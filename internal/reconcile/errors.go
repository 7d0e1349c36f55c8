package reconcile

import (
	"fmt"
	"io/fs"

	"github.com/jmgilman/go/errors"
)

// Operation names the step a failure happened in.
type Operation string

const (
	OpInspect         Operation = "inspect"
	OpCreateFile      Operation = "create-file"
	OpCreateDirectory Operation = "create-directory"
	OpDeleteDirectory Operation = "delete-directory"
	OpDeleteFile      Operation = "delete-file"
)

// Context keys attached to every reconciliation error.
const (
	ContextOperation = "operation"
	ContextPath      = "path"
)

func (o Operation) describe() string {
	switch o {
	case OpInspect:
		return "inspect path"
	case OpCreateFile:
		return "create file"
	case OpCreateDirectory:
		return "create directory"
	case OpDeleteDirectory:
		return "delete directory"
	case OpDeleteFile:
		return "delete file"
	default:
		return string(o)
	}
}

// conflictError reports a desired state that an existing entry contradicts.
func conflictError(op Operation, path, reason string) error {
	err := errors.Newf(errors.CodeConflict, "could not %s: %s, %s", op.describe(), path, reason)
	return withOperation(err, op, path)
}

// missingParentError reports a creation that needs intermediate directories
// while nested creation is disabled.
func missingParentError(op Operation, path string, cause error) error {
	msg := fmt.Sprintf("could not %s: %s, parent directory does not exist (set nested to create it)",
		op.describe(), path)
	return withOperation(errors.Wrap(cause, errors.CodeInvalidConfig, msg), op, path)
}

// ioError wraps a failing filesystem primitive.
func ioError(op Operation, path string, cause error) error {
	code := errors.CodeExecutionFailed
	if errors.Is(cause, fs.ErrPermission) {
		code = errors.CodeForbidden
	}
	msg := fmt.Sprintf("could not %s: %s", op.describe(), path)
	return withOperation(errors.Wrap(cause, code, msg), op, path)
}

func withOperation(err errors.PlatformError, op Operation, path string) error {
	return errors.WithContextMap(err, map[string]interface{}{
		ContextOperation: string(op),
		ContextPath:      path,
	})
}

// IsConflict reports whether err is a configuration conflict.
func IsConflict(err error) bool {
	return err != nil && errors.GetCode(err) == errors.CodeConflict
}

// IsMissingParent reports whether err was caused by a missing intermediate
// directory with nested creation disabled.
func IsMissingParent(err error) bool {
	return err != nil && errors.GetCode(err) == errors.CodeInvalidConfig
}

// IsIOFailure reports whether err came from a failing filesystem primitive.
func IsIOFailure(err error) bool {
	if err == nil {
		return false
	}
	switch errors.GetCode(err) {
	case errors.CodeExecutionFailed, errors.CodeForbidden:
		return true
	default:
		return false
	}
}

// OpOf returns the operation recorded on err, or "" if there is none.
func OpOf(err error) Operation {
	var perr errors.PlatformError
	if !errors.As(err, &perr) {
		return ""
	}
	op, _ := perr.Context()[ContextOperation].(string)
	return Operation(op)
}

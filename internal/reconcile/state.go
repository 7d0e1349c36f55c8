package reconcile

import (
	"fmt"
	"strings"

	"github.com/jmgilman/go/errors"
)

// State classifies a path on disk. The zero value is not a valid state.
type State int

const (
	StateFile State = iota + 1
	StateDirectory
	StateAbsent
)

// States returns every valid state in declaration order.
func States() []State {
	return []State{StateFile, StateDirectory, StateAbsent}
}

// String returns the textual form used in task files and results.
func (s State) String() string {
	switch s {
	case StateFile:
		return "file"
	case StateDirectory:
		return "directory"
	case StateAbsent:
		return "absent"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	switch s {
	case StateFile, StateDirectory, StateAbsent:
		return true
	default:
		return false
	}
}

// ParseState parses "file", "directory" or "absent".
func ParseState(v string) (State, error) {
	for _, s := range States() {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, errors.Newf(errors.CodeInvalidInput,
		"invalid state %q (must be file, directory, or absent)", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Newf(errors.CodeInvalidInput, "cannot marshal invalid state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Request is one validated reconciliation call.
type Request struct {
	Path   string
	State  State
	Nested bool
}

// Validate rejects requests with an empty path or an unknown state.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return errors.New(errors.CodeInvalidInput, "path must not be empty")
	}
	if !r.State.Valid() {
		return errors.Newf(errors.CodeInvalidInput, "invalid state %s (must be file, directory, or absent)", r.State)
	}
	return nil
}

// Result is the outcome of one reconciliation call.
type Result struct {
	Changed bool   `json:"changed" yaml:"changed"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Diff    *Diff  `json:"diff,omitempty" yaml:"diff,omitempty"`
}

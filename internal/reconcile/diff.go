package reconcile

// Diff is the before/after view of a path. State appears on both sides or on
// neither.
type Diff struct {
	Before DiffSide `json:"before" yaml:"before"`
	After  DiffSide `json:"after" yaml:"after"`
}

// DiffSide is one half of a Diff.
type DiffSide struct {
	Path  string `json:"path" yaml:"path"`
	State *State `json:"state,omitempty" yaml:"state,omitempty"`
}

// BuildDiff describes the change from current to desired for path.
func BuildDiff(path string, desired, current State) Diff {
	d := Diff{
		Before: DiffSide{Path: path},
		After:  DiffSide{Path: path},
	}
	if current != desired {
		before, after := current, desired
		d.Before.State = &before
		d.After.State = &after
	}
	return d
}

// Changes reports whether the diff carries a state transition.
func (d Diff) Changes() bool {
	return d.Before.State != nil && d.After.State != nil
}

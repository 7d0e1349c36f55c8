package fsys

import (
	"io/fs"
	"os"
	"sync"
	"syscall"
)

// Op names a primitive for fault injection.
type Op string

const (
	OpStat       Op = "stat"
	OpCreateFile Op = "create"
	OpMkdir      Op = "mkdir"
	OpRemoveFile Op = "remove"
	OpRemoveTree Op = "removeall"
)

// Faulty wraps a Filesystem and fails selected primitives with a fixed errno.
// Faults can be scoped to a single path or apply to every path.
type Faulty struct {
	base Filesystem

	mu     sync.Mutex
	faults map[faultKey]syscall.Errno
	calls  map[Op]int
}

type faultKey struct {
	op   Op
	path string
}

// NewFaulty wraps base. Without injected faults it behaves exactly like base.
func NewFaulty(base Filesystem) *Faulty {
	return &Faulty{
		base:   base,
		faults: make(map[faultKey]syscall.Errno),
		calls:  make(map[Op]int),
	}
}

// Fail makes op fail with errno for path. An empty path matches any path.
func (f *Faulty) Fail(op Op, path string, errno syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[faultKey{op: op, path: normalizeKey(path)}] = errno
}

// Reset drops every injected fault and call count.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[faultKey]syscall.Errno)
	f.calls = make(map[Op]int)
}

// Calls returns how often op was invoked, including failed invocations.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Mutations returns the number of mutating primitives invoked.
func (f *Faulty) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[OpCreateFile] + f.calls[OpMkdir] + f.calls[OpRemoveFile] + f.calls[OpRemoveTree]
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}
	return f.base.Stat(path)
}

func (f *Faulty) CreateFile(path string) error {
	if err := f.check(OpCreateFile, path); err != nil {
		return err
	}
	return f.base.CreateFile(path)
}

func (f *Faulty) Mkdir(path string, recursive bool) error {
	if err := f.check(OpMkdir, path); err != nil {
		return err
	}
	return f.base.Mkdir(path, recursive)
}

func (f *Faulty) RemoveFile(path string) error {
	if err := f.check(OpRemoveFile, path); err != nil {
		return err
	}
	return f.base.RemoveFile(path)
}

func (f *Faulty) RemoveTree(path string) error {
	if err := f.check(OpRemoveTree, path); err != nil {
		return err
	}
	return f.base.RemoveTree(path)
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++

	errno, ok := f.faults[faultKey{op: op, path: normalizeKey(path)}]
	if !ok {
		errno, ok = f.faults[faultKey{op: op}]
	}
	if !ok {
		return nil
	}
	return &fs.PathError{Op: string(op), Path: path, Err: errno}
}

func normalizeKey(path string) string {
	if path == "" {
		return ""
	}
	return normalize(path)
}

// Package fsys provides the filesystem primitives the reconciler mutates
// through.
//
// The primitives follow POSIX-like semantics with the leniency rules of the
// reconciler baked in:
//   - [Filesystem.Mkdir] never fails because the target already exists
//   - [Filesystem.RemoveFile] never fails because the target is already gone
//   - [Filesystem.RemoveTree] does fail when the target is missing
//   - [Filesystem.CreateFile] never creates missing parents
//
// Two backends are provided on top of go-billy: [NewOS] for the host
// filesystem and [NewMemory] for tests. [Faulty] wraps either one to inject
// errors.
package fsys

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const (
	dirPerm  os.FileMode = 0o777
	filePerm os.FileMode = 0o666
)

// Filesystem is the set of primitives consumed by the reconciler.
type Filesystem interface {
	// Stat returns file metadata for path, following symlinks.
	Stat(path string) (os.FileInfo, error)
	// CreateFile creates an empty file at path if nothing exists there yet.
	// An existing file is left untouched. The parent directory must exist.
	CreateFile(path string) error
	// Mkdir creates the directory at path. When recursive is false the
	// parent must already exist. An existing directory is not an error.
	Mkdir(path string, recursive bool) error
	// RemoveFile unlinks path. A missing path is not an error.
	RemoveFile(path string) error
	// RemoveTree removes path and everything below it. A missing path is an error.
	RemoveTree(path string) error
}

// Billy implements Filesystem on top of a billy.Filesystem.
type Billy struct {
	bfs billy.Filesystem
}

// NewOS returns a Filesystem backed by the host filesystem, rooted at "/".
// Callers must pass absolute paths.
func NewOS() *Billy {
	return &Billy{bfs: osfs.New("/")}
}

// NewMemory returns an empty in-memory Filesystem.
func NewMemory() *Billy {
	return &Billy{bfs: memfs.New()}
}

// Unwrap returns the underlying billy.Filesystem.
func (b *Billy) Unwrap() billy.Filesystem {
	return b.bfs
}

// Stat returns file metadata for path.
func (b *Billy) Stat(path string) (os.FileInfo, error) {
	return b.bfs.Stat(normalize(path))
}

// CreateFile creates an empty file at path unless one already exists.
//
// billy creates missing parents on O_CREATE, so the parent is checked first
// to keep the non-recursive contract.
func (b *Billy) CreateFile(path string) error {
	path = normalize(path)
	if err := b.requireParent("open", path); err != nil {
		return err
	}

	f, err := b.bfs.OpenFile(path, os.O_WRONLY|os.O_CREATE, filePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

// Mkdir creates the directory at path, creating parents only when recursive.
func (b *Billy) Mkdir(path string, recursive bool) error {
	path = normalize(path)
	if !recursive {
		if err := b.requireParent("mkdir", path); err != nil {
			return err
		}
	}
	return b.bfs.MkdirAll(path, dirPerm)
}

// RemoveFile unlinks path, ignoring a missing target.
func (b *Billy) RemoveFile(path string) error {
	err := b.bfs.Remove(normalize(path))
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveTree removes path recursively. It fails if path does not exist.
func (b *Billy) RemoveTree(path string) error {
	path = normalize(path)
	if _, err := b.bfs.Stat(path); err != nil {
		return err
	}
	return util.RemoveAll(b.bfs, path)
}

// requireParent returns an error unless the parent of path is an existing
// directory.
func (b *Billy) requireParent(op, path string) error {
	parent := filepath.Dir(path)
	if parent == path || parent == "." || parent == "/" {
		return nil
	}

	info, err := b.bfs.Stat(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
		}
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: op, Path: path, Err: syscall.ENOTDIR}
	}
	return nil
}

// normalize cleans path and converts it to forward slashes.
func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

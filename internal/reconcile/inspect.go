package reconcile

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/schaermu/fsreconcile/internal/fsys"
)

// Inspect classifies path. A missing entry is StateAbsent, a directory is
// StateDirectory and anything else is StateFile.
func Inspect(filesystem fsys.Filesystem, path string) (State, error) {
	info, err := filesystem.Stat(path)
	if err != nil {
		// ENOTDIR means a leading segment is not a directory, so path cannot exist.
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return StateAbsent, nil
		}
		return 0, ioError(OpInspect, path, err)
	}
	if info.IsDir() {
		return StateDirectory, nil
	}
	return StateFile, nil
}

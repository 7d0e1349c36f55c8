package reconcile

import (
	"bytes"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/fsreconcile/internal/fsys"
	"github.com/schaermu/fsreconcile/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setup seeds base with the requested state for path.
func setup(t *testing.T, base fsys.Filesystem, path string, s State) {
	t.Helper()
	switch s {
	case StateFile:
		require.NoError(t, base.Mkdir(filepath.Dir(path), true))
		require.NoError(t, base.CreateFile(path))
	case StateDirectory:
		require.NoError(t, base.Mkdir(filepath.Join(path, "child"), true))
		require.NoError(t, base.CreateFile(filepath.Join(path, "child", "file")))
	case StateAbsent:
		require.NoError(t, base.Mkdir(filepath.Dir(path), true))
	}
}

func inspect(t *testing.T, base fsys.Filesystem, path string) State {
	t.Helper()
	s, err := Inspect(base, path)
	require.NoError(t, err)
	return s
}

func TestInspect(t *testing.T) {
	base := fsys.NewMemory()
	require.NoError(t, base.Mkdir("/srv/dir", true))
	require.NoError(t, base.CreateFile("/srv/file"))

	assert.Equal(t, StateDirectory, inspect(t, base, "/srv/dir"))
	assert.Equal(t, StateFile, inspect(t, base, "/srv/file"))
	assert.Equal(t, StateAbsent, inspect(t, base, "/srv/missing"))
	assert.Equal(t, StateAbsent, inspect(t, base, "/nope/deeper/still"))
}

func TestInspect_UnderRegularFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{"file": "x"})

	s, err := Inspect(fsys.NewOS(), filepath.Join(dir, "file", "child"))
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, s)
}

func TestInspect_StatFailure(t *testing.T) {
	faulty := fsys.NewFaulty(fsys.NewMemory())
	faulty.Fail(fsys.OpStat, "/srv/locked", syscall.EACCES)

	_, err := Inspect(faulty, "/srv/locked")
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.Equal(t, errors.CodeForbidden, errors.GetCode(err))
	assert.Equal(t, OpInspect, OpOf(err))
}

func TestEnsureFile_CreatesAbsentFile(t *testing.T) {
	base := fsys.NewMemory()
	setup(t, base, "/srv/file", StateAbsent)
	e := NewEngine(base, testLogger(), false)

	res, err := e.EnsureFile("/srv/file", false)
	require.NoError(t, err)

	absent, file := StateAbsent, StateFile
	want := Result{
		Changed: true,
		Path:    "/srv/file",
		Diff: &Diff{
			Before: DiffSide{Path: "/srv/file", State: &absent},
			After:  DiffSide{Path: "/srv/file", State: &file},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateFile, inspect(t, base, "/srv/file"))
}

func TestEnsureFile_ExistingFile(t *testing.T) {
	base := fsys.NewMemory()
	setup(t, base, "/srv/file", StateFile)
	e := NewEngine(base, testLogger(), false)

	res, err := e.EnsureFile("/srv/file", false)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	require.NotNil(t, res.Diff)
	assert.Nil(t, res.Diff.Before.State)
	assert.Nil(t, res.Diff.After.State)
}

func TestEnsureFile_DirectoryConflict(t *testing.T) {
	base := fsys.NewMemory()
	setup(t, base, "/srv/dir", StateDirectory)
	faulty := fsys.NewFaulty(base)
	e := NewEngine(faulty, testLogger(), false)

	_, err := e.EnsureFile("/srv/dir", true)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, OpCreateFile, OpOf(err))
	assert.Contains(t, err.Error(), "could not create file: /srv/dir, path is directory")
	assert.Equal(t, 0, faulty.Mutations())
	assert.Equal(t, StateDirectory, inspect(t, base, "/srv/dir"))
}

func TestEnsureDirectory_FileInPlace(t *testing.T) {
	base := fsys.NewMemory()
	setup(t, base, "/srv/file", StateFile)
	faulty := fsys.NewFaulty(base)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	e := NewEngine(faulty, logger, false)

	res, err := e.EnsureDirectory("/srv/file", true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	require.NotNil(t, res.Diff)
	require.NotNil(t, res.Diff.Before.State)
	assert.Equal(t, StateFile, *res.Diff.Before.State)
	assert.Equal(t, StateDirectory, *res.Diff.After.State)
	assert.Equal(t, 0, faulty.Mutations())
	assert.Equal(t, StateFile, inspect(t, base, "/srv/file"))
	assert.Contains(t, logs.String(), "file occupies directory path")
}

func TestEnsureAbsent_RemovesTree(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "tree")
	testutil.WriteTree(t, root, map[string]string{
		"tree/a/b/file": "data",
		"tree/c/":       "",
		"tree/top":      "x",
	})
	e := NewEngine(fsys.NewOS(), testLogger(), false)

	res, err := e.EnsureAbsent(target)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	_, err = os.Stat(target)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, map[string]string{".": "dir"}, testutil.Snapshot(t, root))
}

func TestEnsureAbsent_AlreadyAbsent(t *testing.T) {
	base := fsys.NewMemory()
	faulty := fsys.NewFaulty(base)
	e := NewEngine(faulty, testLogger(), false)

	res, err := e.EnsureAbsent("/srv/missing/deeper")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Nil(t, res.Diff.Before.State)
	assert.Equal(t, 0, faulty.Mutations())
}

// vanishing removes the target itself right before delegating a removal,
// simulating another actor winning the race between inspect and mutate.
type vanishing struct {
	*fsys.Billy
}

func (v vanishing) RemoveFile(path string) error {
	_ = v.Billy.RemoveFile(path)
	return v.Billy.RemoveFile(path)
}

func (v vanishing) RemoveTree(path string) error {
	_ = v.Billy.RemoveTree(path)
	return v.Billy.RemoveTree(path)
}

func TestEnsureAbsent_VanishedFileIsSuccess(t *testing.T) {
	base := fsys.NewMemory()
	setup(t, base, "/srv/file", StateFile)
	e := NewEngine(vanishing{base}, testLogger(), false)

	res, err := e.EnsureAbsent("/srv/file")
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestEnsureAbsent_VanishedTreeFails(t *testing.T) {
	base := fsys.NewMemory()
	setup(t, base, "/srv/dir", StateDirectory)
	e := NewEngine(vanishing{base}, testLogger(), false)

	_, err := e.EnsureAbsent("/srv/dir")
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.Equal(t, OpDeleteDirectory, OpOf(err))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIdempotence(t *testing.T) {
	for _, desired := range States() {
		t.Run(desired.String(), func(t *testing.T) {
			base := fsys.NewMemory()
			path := "/srv/target"
			initial := StateAbsent
			if desired == StateAbsent {
				initial = StateDirectory
			}
			setup(t, base, path, initial)
			e := NewEngine(base, testLogger(), false)
			req := Request{Path: path, State: desired}

			first, err := e.Handle(req)
			require.NoError(t, err)
			assert.True(t, first.Changed)

			for i := 0; i < 2; i++ {
				again, err := e.Handle(req)
				require.NoError(t, err)
				assert.False(t, again.Changed)
				assert.False(t, again.Diff.Changes())
			}
		})
	}
}

func TestConvergence(t *testing.T) {
	for _, desired := range States() {
		for _, current := range States() {
			name := current.String() + "_to_" + desired.String()
			t.Run(name, func(t *testing.T) {
				base := fsys.NewMemory()
				path := "/srv/target"
				setup(t, base, path, current)
				e := NewEngine(base, testLogger(), false)

				res, err := e.Handle(Request{Path: path, State: desired, Nested: true})

				switch {
				case desired == StateFile && current == StateDirectory:
					require.Error(t, err)
					assert.True(t, IsConflict(err))
					return
				case desired == StateDirectory && current == StateFile:
					require.NoError(t, err)
					assert.False(t, res.Changed)
					assert.Equal(t, StateFile, inspect(t, base, path))
					return
				}

				require.NoError(t, err)
				assert.Equal(t, desired, inspect(t, base, path))
				assert.Equal(t, desired != current, res.Changed)
				assert.Equal(t, path, res.Path)
				assert.Equal(t, res.Diff.Before.State != nil, res.Diff.After.State != nil)
			})
		}
	}
}

func TestDryRunPurity(t *testing.T) {
	for _, desired := range States() {
		for _, current := range States() {
			name := current.String() + "_to_" + desired.String()
			t.Run(name, func(t *testing.T) {
				root := t.TempDir()
				path := filepath.Join(root, "target")
				base := fsys.NewOS()
				setup(t, base, path, current)
				before := testutil.Snapshot(t, root)

				faulty := fsys.NewFaulty(base)
				e := NewEngine(faulty, testLogger(), true)
				res, err := e.Handle(Request{Path: path, State: desired})

				if desired == StateFile && current == StateDirectory {
					require.Error(t, err)
				} else {
					require.NoError(t, err)
					mutating := current != desired && !(desired == StateDirectory && current == StateFile)
					assert.Equal(t, mutating, res.Changed)
				}
				assert.Equal(t, 0, faulty.Mutations())
				if diff := cmp.Diff(before, testutil.Snapshot(t, root)); diff != "" {
					t.Errorf("dry-run touched the filesystem (-before +after):\n%s", diff)
				}
			})
		}
	}
}

func TestDryRunIsOptimistic(t *testing.T) {
	base := fsys.NewMemory()
	e := NewEngine(base, testLogger(), true)

	// Would fail for real: two missing parents without nested.
	res, err := e.EnsureFile("/srv/a/b/file", false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, StateAbsent, *res.Diff.Before.State)

	_, err = NewEngine(base, testLogger(), false).EnsureFile("/srv/a/b/file", false)
	assert.True(t, IsMissingParent(err))
}

func TestNestedGating(t *testing.T) {
	tests := []struct {
		name    string
		desired State
	}{
		{name: "file", desired: StateFile},
		{name: "directory", desired: StateDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "nest1", "nest2", "nest3")
			e := NewEngine(fsys.NewOS(), testLogger(), false)

			_, err := e.Handle(Request{Path: path, State: tt.desired, Nested: false})
			require.Error(t, err)
			assert.True(t, IsMissingParent(err))
			assert.ErrorIs(t, err, fs.ErrNotExist)
			assert.Contains(t, err.Error(), path)
			assert.Equal(t, map[string]string{".": "dir"}, testutil.Snapshot(t, root), "nothing may be created")

			res, err := e.Handle(Request{Path: path, State: tt.desired, Nested: true})
			require.NoError(t, err)
			assert.True(t, res.Changed)
			assert.Equal(t, tt.desired, inspect(t, fsys.NewOS(), path))

			tree := testutil.Snapshot(t, root)
			assert.Equal(t, "dir", tree["nest1"])
			assert.Equal(t, "dir", tree["nest1/nest2"])
		})
	}
}

func TestNonNestedWithExistingParent(t *testing.T) {
	root := t.TempDir()
	e := NewEngine(fsys.NewOS(), testLogger(), false)

	res, err := e.EnsureDirectory(filepath.Join(root, "nest1"), false)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	res, err = e.EnsureFile(filepath.Join(root, "nest1", "file"), false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestIOFailures(t *testing.T) {
	tests := []struct {
		name     string
		current  State
		desired  State
		fault    fsys.Op
		errno    syscall.Errno
		wantOp   Operation
		wantCode errors.ErrorCode
	}{
		{
			name: "create file denied", current: StateAbsent, desired: StateFile,
			fault: fsys.OpCreateFile, errno: syscall.EACCES,
			wantOp: OpCreateFile, wantCode: errors.CodeForbidden,
		},
		{
			name: "create directory disk error", current: StateAbsent, desired: StateDirectory,
			fault: fsys.OpMkdir, errno: syscall.EIO,
			wantOp: OpCreateDirectory, wantCode: errors.CodeExecutionFailed,
		},
		{
			name: "delete directory denied", current: StateDirectory, desired: StateAbsent,
			fault: fsys.OpRemoveTree, errno: syscall.EPERM,
			wantOp: OpDeleteDirectory, wantCode: errors.CodeForbidden,
		},
		{
			name: "delete file read-only", current: StateFile, desired: StateAbsent,
			fault: fsys.OpRemoveFile, errno: syscall.EROFS,
			wantOp: OpDeleteFile, wantCode: errors.CodeExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := fsys.NewMemory()
			setup(t, base, "/srv/target", tt.current)
			faulty := fsys.NewFaulty(base)
			faulty.Fail(tt.fault, "", tt.errno)
			e := NewEngine(faulty, testLogger(), false)

			_, err := e.Handle(Request{Path: "/srv/target", State: tt.desired, Nested: true})
			require.Error(t, err)
			assert.True(t, IsIOFailure(err))
			assert.False(t, IsConflict(err))
			assert.Equal(t, tt.wantOp, OpOf(err))
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			assert.ErrorIs(t, err, tt.errno)
			assert.True(t, strings.Contains(err.Error(), tt.errno.Error()), "message must carry the system error: %s", err)
		})
	}
}

func TestHandle_UnknownState(t *testing.T) {
	faulty := fsys.NewFaulty(fsys.NewMemory())
	e := NewEngine(faulty, nil, false)

	res, err := e.Handle(Request{Path: "/srv/x"})
	require.NoError(t, err)
	assert.Equal(t, Result{Changed: false}, res)
	assert.Equal(t, 0, faulty.Calls(fsys.OpStat))
}

func TestRelativePath(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	e := NewEngine(fsys.NewOS(), testLogger(), false)
	res, err := e.EnsureDirectory("rel", false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "rel", res.Path, "result echoes the requested path")

	info, err := os.Stat(filepath.Join(dir, "rel"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

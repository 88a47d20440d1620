package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uploadRoot     = "/data/upload"
	processedRoot  = "/data/processed"
	exceptionsRoot = "/data/exceptions"
)

func newTestManager(t *testing.T) (*Manager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return NewManager(fs, uploadRoot, processedRoot, exceptionsRoot), fs
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestUserDir(t *testing.T) {
	m, fs := newTestManager(t)
	require.NoError(t, fs.MkdirAll(filepath.Join(uploadRoot, "phone", "u1"), 0o755))
	require.NoError(t, fs.MkdirAll(filepath.Join(uploadRoot, "u2"), 0o755))

	dir, err := m.UserDir("u1")
	require.NoError(t, err)
	assert.Equal(t, "/data/upload/phone/u1", dir)

	dir, err = m.UserDir("u2")
	require.NoError(t, err)
	assert.Equal(t, "/data/upload/u2", dir)

	_, err = m.UserDir("u3")
	assert.ErrorIs(t, err, ErrNoUserDir)

	_, err = m.UserDir("../u1")
	assert.ErrorIs(t, err, ErrInvalidUID)
}

func TestListUserFiles(t *testing.T) {
	m, fs := newTestManager(t)
	dir := filepath.Join(uploadRoot, "phone", "u1")
	for _, name := range []string{"b.db", "a.db", "watch.FIT", "a.db.duplicate", "c.db.duplicate.2", "notes.txt"} {
		writeFile(t, fs, filepath.Join(dir, name), "x")
	}
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "nested.db"), 0o755))

	files, err := m.ListUserFiles("u1", ".db")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.db"),
		filepath.Join(dir, "a.db.duplicate"),
		filepath.Join(dir, "b.db"),
		filepath.Join(dir, "c.db.duplicate.2"),
	}, files)

	files, err = m.ListUserFiles("u1", ".fit")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "watch.FIT")}, files)
}

func TestArchive(t *testing.T) {
	m, fs := newTestManager(t)
	src := filepath.Join(uploadRoot, "phone", "u1", "events.db")
	writeFile(t, fs, src, "first")

	dst, err := m.Archive(src)
	require.NoError(t, err)
	assert.Equal(t, "/data/processed/phone/u1/events.db", dst)

	exists, _ := afero.Exists(fs, src)
	assert.False(t, exists)
	content, err := afero.ReadFile(fs, dst)
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))
}

func TestArchiveCollisionsNeverOverwrite(t *testing.T) {
	m, fs := newTestManager(t)
	src := filepath.Join(uploadRoot, "phone", "u1", "events.db")

	var targets []string
	for _, content := range []string{"one", "two", "three", "four"} {
		writeFile(t, fs, src, content)
		dst, err := m.Archive(src)
		require.NoError(t, err)
		targets = append(targets, dst)
	}

	assert.Equal(t, []string{
		"/data/processed/phone/u1/events.db",
		"/data/processed/phone/u1/events.db.duplicate",
		"/data/processed/phone/u1/events.db.duplicate.1",
		"/data/processed/phone/u1/events.db.duplicate.2",
	}, targets)

	for i, content := range []string{"one", "two", "three", "four"} {
		got, err := afero.ReadFile(fs, targets[i])
		require.NoError(t, err)
		assert.Equal(t, content, string(got))
	}
}

func TestQuarantine(t *testing.T) {
	m, fs := newTestManager(t)
	src := filepath.Join(uploadRoot, "u9", "bad.fit")
	writeFile(t, fs, src, "garbage")

	dst, err := m.Quarantine(src)
	require.NoError(t, err)
	assert.Equal(t, "/data/exceptions/u9/bad.fit", dst)
}

func TestArchiveRejectsPathsOutsideUploadRoot(t *testing.T) {
	m, fs := newTestManager(t)
	writeFile(t, fs, "/elsewhere/file.db", "x")

	_, err := m.Archive("/elsewhere/file.db")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = m.Archive(uploadRoot)
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

// renameFailingFs simulates an archive root on another device.
type renameFailingFs struct {
	afero.Fs
}

func (renameFailingFs) Rename(string, string) error {
	return &os.LinkError{Op: "rename", Err: errors.New("invalid cross-device link")}
}

func TestArchiveFallsBackToCopy(t *testing.T) {
	fs := renameFailingFs{Fs: afero.NewMemMapFs()}
	m := NewManager(fs, uploadRoot, processedRoot, exceptionsRoot)
	src := filepath.Join(uploadRoot, "phone", "u1", "events.db")
	writeFile(t, fs, src, "payload")

	dst, err := m.Archive(src)
	require.NoError(t, err)

	exists, _ := afero.Exists(fs, src)
	assert.False(t, exists)
	content, err := afero.ReadFile(fs, dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestArchiveMissingSource(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Archive(filepath.Join(uploadRoot, "phone", "u1", "gone.db"))
	assert.Error(t, err)
}

func TestUnderlyingExt(t *testing.T) {
	tests := map[string]string{
		"a.db":                     ".db",
		"a.db.duplicate":           ".db",
		"a.db.duplicate.duplicate": ".db",
		"a.fit.duplicate.3":        ".fit",
		"a.duplicate":              "",
		"version.1":                ".1",
		"noext":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, UnderlyingExt(in), in)
	}
}

// Package filestore moves uploaded files between the upload, processed and exceptions roots.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/case-framework/case-sensing/pkg/utils"
	"github.com/spf13/afero"
)

const (
	phoneSubDir     = "phone"
	duplicateSuffix = ".duplicate"
	maxCollisions   = 10000
)

var (
	ErrNoUserDir   = errors.New("no upload directory for user")
	ErrInvalidUID  = errors.New("participant id cannot be used as a directory name")
	ErrOutsideRoot = errors.New("file is not below the upload root")
)

type Manager struct {
	fs             afero.Fs
	uploadRoot     string
	processedRoot  string
	exceptionsRoot string
}

func NewManager(fs afero.Fs, uploadRoot, processedRoot, exceptionsRoot string) *Manager {
	return &Manager{
		fs:             fs,
		uploadRoot:     filepath.Clean(uploadRoot),
		processedRoot:  filepath.Clean(processedRoot),
		exceptionsRoot: filepath.Clean(exceptionsRoot),
	}
}

func (m *Manager) Fs() afero.Fs {
	return m.fs
}

// UserDir returns <upload>/phone/<uid>, or <upload>/<uid> for older uploads.
func (m *Manager) UserDir(uid string) (string, error) {
	if !utils.IsSafePathSegment(uid) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUID, uid)
	}
	for _, dir := range []string{
		filepath.Join(m.uploadRoot, phoneSubDir, uid),
		filepath.Join(m.uploadRoot, uid),
	} {
		if ok, _ := afero.DirExists(m.fs, dir); ok {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoUserDir, uid)
}

// ListUserFiles lists the files of the user's upload directory whose (underlying)
// extension is one of extensions, sorted by name.
func (m *Manager) ListUserFiles(uid string, extensions ...string) ([]string, error) {
	dir, err := m.UserDir(uid)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := UnderlyingExt(e.Name())
		for _, want := range extensions {
			if strings.EqualFold(ext, want) {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Archive moves path from the upload root into the processed root and returns the new location.
func (m *Manager) Archive(path string) (string, error) {
	return m.moveUnder(path, m.processedRoot)
}

// Quarantine moves a repeatedly failing file into the exceptions root.
func (m *Manager) Quarantine(path string) (string, error) {
	return m.moveUnder(path, m.exceptionsRoot)
}

func (m *Manager) moveUnder(path string, root string) (string, error) {
	rel, err := filepath.Rel(m.uploadRoot, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	target := filepath.Join(root, rel)
	if err := m.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	target, err = m.freeName(target)
	if err != nil {
		return "", err
	}
	if err := m.move(path, target); err != nil {
		return "", err
	}
	slog.Debug("file moved", slog.String("from", path), slog.String("to", target))
	return target, nil
}

// freeName appends .duplicate, then .duplicate.1, .duplicate.2, ... until the name is unused.
func (m *Manager) freeName(target string) (string, error) {
	candidate := target
	for i := 0; i < maxCollisions; i++ {
		exists, err := afero.Exists(m.fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = target + duplicateSuffix
		if i > 0 {
			candidate += "." + strconv.Itoa(i)
		}
	}
	return "", fmt.Errorf("no free name for %s", target)
}

// move renames, falling back to copy and remove when the rename crosses devices.
func (m *Manager) move(from, to string) error {
	err := m.fs.Rename(from, to)
	if err == nil {
		return nil
	}
	slog.Debug("rename failed, copying instead", slog.String("from", from), slog.String("error", err.Error()))

	if err := m.copyFile(from, to); err != nil {
		_ = m.fs.Remove(to)
		return fmt.Errorf("move %s: %w", from, err)
	}
	if err := m.fs.Remove(from); err != nil {
		return fmt.Errorf("remove %s after copy: %w", from, err)
	}
	return nil
}

func (m *Manager) copyFile(from, to string) error {
	src, err := m.fs.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := m.fs.OpenFile(to, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// UnderlyingExt returns the extension of name ignoring the .duplicate markers the
// upload endpoint appends to colliding uploads ("a.db.duplicate" -> ".db").
func UnderlyingExt(name string) string {
	for {
		ext := filepath.Ext(name)
		switch {
		case ext == duplicateSuffix:
			name = strings.TrimSuffix(name, ext)
		case isNumeric(strings.TrimPrefix(ext, ".")) && strings.HasSuffix(strings.TrimSuffix(name, ext), duplicateSuffix):
			name = strings.TrimSuffix(name, ext)
		default:
			return ext
		}
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

package safeio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrOutsideBase is returned when a path resolves outside its base directory.
var ErrOutsideBase = errors.New("path is outside base directory")

// CleanUserPath cleans a user-provided path and rejects traversal attempts.
// Returns paths with forward slashes for cross-platform consistency.
func CleanUserPath(p string) (string, error) {
	c := filepath.Clean(filepath.FromSlash(p))
	for _, part := range strings.Split(filepath.ToSlash(c), "/") {
		if part == ".." {
			return "", errors.New("path traversal detected")
		}
	}
	return filepath.ToSlash(c), nil
}

// RelativeTo resolves p (absolute, or relative to base) and returns it relative
// to base with forward slashes. Paths escaping base are rejected.
func RelativeTo(base, p string) (string, error) {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory %s: %w", base, err)
	}
	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(baseAbs, target)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", p, err)
	}

	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path for %s: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideBase)
	}
	return filepath.ToSlash(rel), nil
}

// IsFile reports whether name is a regular file in fs.
func IsFile(fs billy.Basic, name string) bool {
	st, err := fs.Stat(name)
	return err == nil && st.Mode().IsRegular()
}

// IsDir reports whether name is a directory in fs.
func IsDir(fs billy.Basic, name string) bool {
	st, err := fs.Stat(name)
	return err == nil && st.IsDir()
}

// ForceWritable clears a read-only attribute on an existing file. Missing
// files and filesystems without chmod support are left alone.
func ForceWritable(fs billy.Basic, name string) error {
	st, err := fs.Stat(name)
	if err != nil || !st.Mode().IsRegular() {
		return nil
	}
	if st.Mode().Perm()&0o200 != 0 {
		return nil
	}
	ch, ok := fs.(billy.Change)
	if !ok {
		return nil
	}
	if err := ch.Chmod(name, st.Mode().Perm()|0o200); err != nil {
		return fmt.Errorf("failed to make %s writable: %w", name, err)
	}
	return nil
}

// CopyFile copies src to dst inside fs, creating dst's parent directories and
// clearing a read-only dst first.
func CopyFile(fs billy.Filesystem, src, dst string) error {
	srcFile, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer func() { _ = srcFile.Close() }()

	mode := os.FileMode(0o644)
	if st, err := fs.Stat(src); err == nil {
		mode = st.Mode().Perm() | 0o200
	}

	if dir := path.Dir(filepath.ToSlash(dst)); dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dst, err)
		}
	}
	if err := ForceWritable(fs, dst); err != nil {
		return err
	}

	dstFile, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

// WriteFile writes data to name, creating parent directories as needed.
func WriteFile(fs billy.Filesystem, name string, data []byte) error {
	if dir := path.Dir(filepath.ToSlash(name)); dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
	}
	if err := ForceWritable(fs, name); err != nil {
		return err
	}
	if err := util.WriteFile(fs, name, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// RemoveFile deletes name after clearing a read-only attribute. It reports
// whether a file was actually removed; a missing file is not an error.
func RemoveFile(fs billy.Basic, name string) (bool, error) {
	if !IsFile(fs, name) {
		return false, nil
	}
	if err := ForceWritable(fs, name); err != nil {
		return false, err
	}
	if err := fs.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return true, nil
}

// WriteFileAtomic replaces name with data by writing a temp file in the same
// directory and renaming it over name. The existing file mode is kept when the
// filesystem supports chmod.
func WriteFileAtomic(fs billy.Filesystem, name string, data []byte) (err error) {
	dir := path.Dir(filepath.ToSlash(name))
	if dir == "" {
		dir = "."
	}

	tmp, err := util.TempFile(fs, dir, "."+path.Base(filepath.ToSlash(name))+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := path.Join(dir, path.Base(filepath.ToSlash(tmp.Name())))
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file for %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}

	if st, statErr := fs.Stat(name); statErr == nil {
		if ch, ok := fs.(billy.Change); ok {
			_ = ch.Chmod(tmpName, st.Mode().Perm()|0o200)
		}
		if err = ForceWritable(fs, name); err != nil {
			return err
		}
	}

	if err = fs.Rename(tmpName, name); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// ReadFile reads name from fs.
func ReadFile(fs billy.Basic, name string) ([]byte, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

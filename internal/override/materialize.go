// Package override maintains override copies in the destination and original
// trees and keeps the manifest declarations in step with them.
package override

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5"
)

var (
	// ErrNotRegularFile is returned when an override source is missing or not a file.
	ErrNotRegularFile = errors.New("override source is not a regular file")
	// ErrUnsupported is returned for sources that must never be overridden.
	ErrUnsupported = errors.New("override target not supported")
)

// Mode selects how much an override records.
type Mode int

const (
	// Normal keeps an original-baseline copy unless SkipOriginal is set.
	Normal Mode = iota
	// Light never keeps an original-baseline copy.
	Light
)

func (m Mode) String() string {
	if m == Light {
		return "light"
	}
	return "normal"
}

// Record identifies one override by its workspace-relative source path.
type Record struct {
	Src          string
	SkipOriginal bool
	Mode         Mode
}

func (r Record) skipsOriginal() bool {
	return r.SkipOriginal || r.Mode == Light
}

// Clean returns the source path with forward slashes and no dot segments.
func (r Record) Clean() string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(r.Src, `\`, "/")), "./")
}

// Materializer manages the override copies of source files. All directories
// are workspace-relative; Org and Secondary are optional.
type Materializer struct {
	FS        billy.Filesystem
	Dst       string
	Org       string
	Secondary string
}

// DstPath is where the override copy of src lives.
func (m *Materializer) DstPath(src string) string {
	return path.Join(m.Dst, src)
}

// OrgPath is where the original-baseline copy of src lives.
func (m *Materializer) OrgPath(src string) string {
	return path.Join(m.Org, src)
}

// SecondaryPath is where the secondary layer keeps its version of src.
func (m *Materializer) SecondaryPath(src string) string {
	return path.Join(m.Secondary, src)
}

// Materialize creates the override copy of rec.Src if it does not exist yet and
// refreshes the original-baseline copy. first reports whether the override
// copy was created by this call. On creation a secondary-layer version of the
// file, if any, replaces the plain copy.
func (m *Materializer) Materialize(rec Record) (first bool, err error) {
	src := rec.Clean()
	if !safeio.IsFile(m.FS, src) {
		return false, fmt.Errorf("%s: %w", src, ErrNotRegularFile)
	}

	dst := m.DstPath(src)
	if !safeio.IsFile(m.FS, dst) {
		if err := safeio.CopyFile(m.FS, src, dst); err != nil {
			return false, err
		}
		first = true

		if m.Secondary != "" {
			layer := m.SecondaryPath(src)
			if safeio.IsFile(m.FS, layer) {
				if err := safeio.CopyFile(m.FS, layer, dst); err != nil {
					return true, err
				}
				logger.Debug("secondary layer applied", logger.Path("src", layer), logger.Path("dst", dst))
			}
		}
		logger.Debug("override copy created", logger.Path("dst", dst))
	}

	if rec.skipsOriginal() || m.Org == "" {
		return first, nil
	}

	if !safeio.IsDir(m.FS, m.Org) {
		if first {
			if _, rmErr := safeio.RemoveFile(m.FS, dst); rmErr != nil {
				logger.Warn("failed to remove override copy", logger.Path("dst", dst), logger.Err(rmErr))
			}
		}
		return false, fmt.Errorf("original directory %s is not a directory", m.Org)
	}
	if err := safeio.CopyFile(m.FS, src, m.OrgPath(src)); err != nil {
		return first, err
	}
	return first, nil
}

// Cleanup deletes the override copy and, unless skipped, the original-baseline
// copy of rec.Src. Missing files are not errors.
func (m *Materializer) Cleanup(rec Record) error {
	src := rec.Clean()
	if _, err := safeio.RemoveFile(m.FS, m.DstPath(src)); err != nil {
		return err
	}
	if rec.skipsOriginal() || m.Org == "" {
		return nil
	}
	if _, err := safeio.RemoveFile(m.FS, m.OrgPath(src)); err != nil {
		return err
	}
	return nil
}

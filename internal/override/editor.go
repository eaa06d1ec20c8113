package override

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/fwto/internal/manifest"
	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/fulmenhq/fwto/pkg/safeio"
)

// Editor keeps manifest declarations and override copies consistent. Each
// call reads the manifest once and rewrites it at most once. Only one Editor
// may work on a workspace at a time.
type Editor struct {
	Manifest     *manifest.File
	Materializer *Materializer
	// Unsupported holds doublestar patterns of sources Override refuses.
	Unsupported []string
}

func (e *Editor) dstBase() string {
	return path.Base(e.Materializer.Dst)
}

func (e *Editor) destOf(rec Record) string {
	return manifest.DestPath(e.dstBase(), rec.Clean())
}

func (e *Editor) declarationOf(rec Record) string {
	return manifest.Declaration(e.dstBase(), rec.Clean())
}

// Supported reports whether src may be overridden.
func (e *Editor) Supported(src string) bool {
	name := strings.ToLower(Record{Src: src}.Clean())
	for _, pattern := range e.Unsupported {
		if ok, _ := doublestar.Match(strings.ToLower(pattern), name); ok {
			return false
		}
	}
	return true
}

// Append declares rec in the manifest.
func (e *Editor) Append(rec Record) error {
	doc, err := e.Manifest.Load()
	if err != nil {
		return err
	}
	if err := doc.Insert(e.declarationOf(rec)); err != nil {
		return fmt.Errorf("%s: %w", e.Manifest.Path, err)
	}
	return e.Manifest.Save(doc)
}

// Remove drops every declaration of rec and deletes its override copies.
func (e *Editor) Remove(rec Record) (bool, error) {
	doc, err := e.Manifest.Load()
	if err != nil {
		return false, err
	}
	if doc.Remove(e.destOf(rec)) == 0 {
		return false, nil
	}
	if err := e.Manifest.Save(doc); err != nil {
		return false, err
	}
	if err := e.Materializer.Cleanup(rec); err != nil {
		return true, err
	}
	logger.Info("override removed", logger.Path("src", rec.Clean()))
	return true, nil
}

// Replace moves the override of oldRec to newRec: newRec is materialized, the
// content of the old override copy is carried over, the old copies are
// deleted and the first old declaration becomes the new one. It reports false
// when oldRec is not declared.
func (e *Editor) Replace(oldRec, newRec Record) (bool, error) {
	doc, err := e.Manifest.Load()
	if err != nil {
		return false, err
	}
	oldDest, newDest := e.destOf(oldRec), e.destOf(newRec)
	if !doc.Contains(oldDest) {
		return false, nil
	}

	if _, err := e.Materializer.Materialize(newRec); err != nil {
		return false, err
	}

	oldDst := e.Materializer.DstPath(oldRec.Clean())
	newDst := e.Materializer.DstPath(newRec.Clean())
	if oldDst != newDst {
		if safeio.IsFile(e.Materializer.FS, oldDst) {
			if err := safeio.CopyFile(e.Materializer.FS, oldDst, newDst); err != nil {
				return false, err
			}
		}
		if err := e.Materializer.Cleanup(oldRec); err != nil {
			return false, err
		}
	}

	doc.Replace(oldDest, newDest, e.declarationOf(newRec))
	if err := e.Manifest.Save(doc); err != nil {
		return false, err
	}
	logger.Info("override replaced", logger.Path("old", oldRec.Clean()), logger.Path("new", newRec.Clean()))
	return true, nil
}

// Override materializes rec and declares it the first time its override copy
// is created. Later calls only refresh the original-baseline copy.
func (e *Editor) Override(rec Record) (bool, error) {
	if !e.Supported(rec.Src) {
		return false, fmt.Errorf("%s: %w", rec.Clean(), ErrUnsupported)
	}

	first, err := e.Materializer.Materialize(rec)
	if err != nil {
		return false, err
	}
	if !first {
		logger.Debug("override refreshed", logger.Path("src", rec.Clean()))
		return false, nil
	}

	if err := e.Append(rec); err != nil {
		if cleanupErr := e.Materializer.Cleanup(rec); cleanupErr != nil {
			logger.Warn("failed to undo override copy", logger.Path("src", rec.Clean()), logger.Err(cleanupErr))
		}
		return false, err
	}
	logger.Info("override created", logger.Path("src", rec.Clean()), logger.String("mode", rec.Mode.String()))
	return true, nil
}

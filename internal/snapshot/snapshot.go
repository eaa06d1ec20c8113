// Package snapshot writes file content from a revision into the workspace.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5"
)

// Extractor copies revision content into FS.
type Extractor struct {
	VCS vcs.VCS
	FS  billy.Filesystem
}

// ExtractAt writes src as of ref to dest, creating parent directories. A path
// missing at ref is not an error: it is logged and reported as false.
func (e *Extractor) ExtractAt(ctx context.Context, ref vcs.Ref, src, dest string) (bool, error) {
	data, err := e.VCS.Extract(ctx, ref, src)
	if err != nil {
		if errors.Is(err, vcs.ErrNotFound) {
			logger.Info("not present at revision, nothing extracted",
				logger.Path("path", src), logger.String("ref", ref.String()))
			return false, nil
		}
		return false, fmt.Errorf("failed to extract %s at %s: %w", src, ref, err)
	}

	if err := safeio.WriteFile(e.FS, dest, data); err != nil {
		return false, err
	}
	logger.Debug("extracted", logger.Path("path", src), logger.String("ref", ref.String()), logger.Path("dest", dest))
	return true, nil
}

// Exists reports whether p is a regular file in the workspace.
func (e *Extractor) Exists(p string) bool {
	return safeio.IsFile(e.FS, p)
}

// Package review lays out before/after copies of the files an upstream change
// touched, so the change can be inspected with an ordinary directory diff.
package review

import (
	"context"
	"fmt"
	"path"

	"github.com/fulmenhq/fwto/internal/snapshot"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5"
)

const (
	viewHome = "view"
	oldTree  = "old"
	newTree  = "new"
)

// Extractor writes <OutputDir>/view/{old,new}. Dst is required; Org and
// Secondary are optional. All paths are workspace-relative.
type Extractor struct {
	VCS       vcs.VCS
	FS        billy.Filesystem
	Dst       string
	Org       string
	Secondary string
	OutputDir string
}

// Result counts what Review wrote.
type Result struct {
	Extracted int      `json:"extracted" yaml:"extracted"`
	Missing   int      `json:"missing" yaml:"missing"`
	Warnings  []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type pair struct {
	oldRef  vcs.Ref
	oldPath string
	newRef  vcs.Ref
	newPath string
}

// Review extracts old and new versions for every file changed in rng:
// plain source files first, then secondary-layer files, then override copies.
// Override and layer files are laid out under their source path.
func (x *Extractor) Review(ctx context.Context, rng vcs.Range) (*Result, error) {
	if rng.New == "" {
		return nil, fmt.Errorf("no revision to review")
	}
	res := &Result{}
	snap := &snapshot.Extractor{VCS: x.VCS, FS: x.FS}

	var overrideDirs []string
	for _, dir := range []string{x.Dst, x.Org, x.Secondary, x.OutputDir} {
		if dir != "" {
			overrideDirs = append(overrideDirs, dir)
		}
	}
	events, err := x.VCS.Classify(ctx, vcs.Query{
		Range: rng, Filter: "ADM", Scope: overrideDirs, Exclude: true, Threshold: 100,
	})
	if err != nil {
		x.warn(res, "source files", err)
	} else {
		for _, e := range events {
			if err := x.write(ctx, snap, res, e.NewPath, pair{rng.Pre(), e.OldPath, rng.Post(), e.NewPath}); err != nil {
				return res, err
			}
		}
	}

	if x.Secondary != "" {
		if safeio.IsDir(x.FS, x.Secondary) {
			if err := x.layer(ctx, snap, res, rng, x.Secondary); err != nil {
				return res, err
			}
		} else {
			x.warn(res, "secondary layer", fmt.Errorf("%s is not a directory", x.Secondary))
		}
	}

	if err := x.layer(ctx, snap, res, rng, x.Dst); err != nil {
		return res, err
	}

	logger.Info("review extracted",
		logger.String("range", rng.String()),
		logger.Int("files", res.Extracted),
		logger.Int("missing", res.Missing))
	return res, nil
}

// layer pairs each changed file below dir with its source counterpart:
// an added layer file is compared against the source, a deleted one against
// what replaces it in the source.
func (x *Extractor) layer(ctx context.Context, snap *snapshot.Extractor, res *Result, rng vcs.Range, dir string) error {
	pre, post := rng.Pre(), rng.Post()
	for _, filter := range []string{"A", "D", "M"} {
		events, err := x.VCS.Classify(ctx, vcs.Query{
			Range: rng, Filter: filter, Scope: []string{dir}, Threshold: 100,
		})
		if err != nil {
			x.warn(res, dir+" "+filter, err)
			continue
		}
		for _, e := range events {
			src, ok := vcs.TrimScope(dir, e.NewPath)
			if !ok {
				continue
			}
			var p pair
			switch filter {
			case "A":
				p = pair{post, src, post, e.NewPath}
			case "D":
				p = pair{pre, e.OldPath, post, src}
			default:
				p = pair{pre, e.OldPath, post, e.NewPath}
			}
			if err := x.write(ctx, snap, res, src, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Extractor) write(ctx context.Context, snap *snapshot.Extractor, res *Result, src string, p pair) error {
	for _, side := range []struct {
		tree string
		ref  vcs.Ref
		from string
	}{
		{oldTree, p.oldRef, p.oldPath},
		{newTree, p.newRef, p.newPath},
	} {
		ok, err := snap.ExtractAt(ctx, side.ref, side.from, path.Join(x.OutputDir, viewHome, side.tree, src))
		if err != nil {
			return err
		}
		if ok {
			res.Extracted++
		} else {
			res.Missing++
		}
	}
	return nil
}

func (x *Extractor) warn(res *Result, what string, err error) {
	logger.Warn("review query failed", logger.String("query", what), logger.Err(err))
	res.Warnings = append(res.Warnings, what+": "+err.Error())
}

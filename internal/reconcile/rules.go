package reconcile

import (
	"context"
	"errors"
	"path"

	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/internal/report"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5/util"
)

func (r *run) dst(src string) string {
	return r.Editor.Materializer.DstPath(src)
}

func (r *run) onAdded(ctx context.Context, l layer, e vcs.ChangeEvent, src string) error {
	if l.ownsManifest {
		if !r.opts.Pure {
			return nil
		}
		return r.lightOverride(l, e, src, false)
	}

	newSnap := r.auditPath(notRenamed, baseNew, src)
	if r.exists(r.dst(src)) || r.exists(newSnap) {
		if err := r.extract(ctx, r.opts.Range.Post(), e.NewPath, newSnap); err != nil {
			return err
		}
		r.record(l, e, report.ActionSnapshot, baseNew)
		return nil
	}
	if r.opts.Pure {
		return r.lightOverride(l, e, src, true)
	}
	return nil
}

func (r *run) onDeleted(ctx context.Context, l layer, e vcs.ChangeEvent, src string) error {
	pre, post := r.opts.Range.Pre(), r.opts.Range.Post()
	oldSnap := r.auditPath(notRenamed, baseOld, src)

	if !l.ownsManifest {
		if !r.exists(r.dst(src)) && !r.exists(oldSnap) {
			return nil
		}
		if err := r.extract(ctx, pre, e.OldPath, oldSnap); err != nil {
			return err
		}
		r.record(l, e, report.ActionSnapshot, baseOld)
		return nil
	}

	if !r.exists(r.dst(src)) {
		return nil
	}
	if err := r.extract(ctx, pre, src, oldSnap); err != nil {
		return err
	}
	if err := r.extract(ctx, post, r.dst(src), r.auditPath(notRenamed, overrideDir, src)); err != nil {
		return err
	}
	removed, err := r.Editor.Remove(override.Record{Src: src})
	if err != nil {
		return err
	}
	if !removed {
		r.record(l, e, report.ActionSkip, "override copy present but not declared")
		return nil
	}
	r.record(l, e, report.ActionRemove, "")
	return nil
}

func (r *run) onModified(ctx context.Context, l layer, e vcs.ChangeEvent, src string) error {
	pre, post := r.opts.Range.Pre(), r.opts.Range.Post()
	oldSnap := r.auditPath(notRenamed, baseOld, src)
	newSnap := r.auditPath(notRenamed, baseNew, src)

	if !l.ownsManifest {
		if !r.exists(r.dst(src)) && !r.exists(oldSnap) && !r.exists(newSnap) {
			if r.opts.Pure {
				return r.lightOverride(l, e, src, true)
			}
			return nil
		}
		if err := r.extract(ctx, pre, e.OldPath, oldSnap); err != nil {
			return err
		}
		if err := r.extract(ctx, post, e.NewPath, newSnap); err != nil {
			return err
		}
		r.record(l, e, report.ActionSnapshot, baseOld+", "+baseNew)
		return nil
	}

	if !r.exists(r.dst(src)) {
		if r.opts.Pure {
			return r.lightOverride(l, e, src, false)
		}
		return nil
	}
	if err := r.extract(ctx, pre, src, oldSnap); err != nil {
		return err
	}
	if err := r.extract(ctx, post, src, newSnap); err != nil {
		return err
	}
	if err := r.extract(ctx, post, r.dst(src), r.auditPath(notRenamed, overrideDir, src)); err != nil {
		return err
	}
	if _, err := r.Editor.Override(override.Record{Src: src, Mode: r.mode()}); err != nil {
		return r.tolerate(l, e, err)
	}
	r.record(l, e, report.ActionRefresh, r.mode().String())
	return nil
}

func (r *run) onRenamed(ctx context.Context, l layer, b bucket, e vcs.ChangeEvent, oldSrc, newSrc string) error {
	if !l.ownsManifest {
		return r.onLayerRenamed(ctx, l, b, e, newSrc)
	}

	if !r.exists(r.dst(oldSrc)) {
		if r.opts.Pure {
			return r.lightOverride(l, e, newSrc, false)
		}
		return nil
	}
	// The exact-rename bucket already moved this override.
	if !b.exact() && e.Similarity >= 100 {
		return nil
	}

	if !b.exact() {
		r.logRename(e)
		tree := r.renameTree()
		pre, post := r.opts.Range.Pre(), r.opts.Range.Post()
		if err := r.extract(ctx, pre, oldSrc, r.auditPath(tree, baseOld, newSrc)); err != nil {
			return err
		}
		if err := r.extract(ctx, post, newSrc, r.auditPath(tree, baseNew, newSrc)); err != nil {
			return err
		}
		if err := r.extract(ctx, post, r.dst(oldSrc), r.auditPath(tree, overrideDir, newSrc)); err != nil {
			return err
		}
	}

	mode := r.mode()
	replaced, err := r.Editor.Replace(
		override.Record{Src: oldSrc, Mode: mode},
		override.Record{Src: newSrc, Mode: mode},
	)
	if err != nil {
		return r.tolerate(l, e, err)
	}
	if !replaced {
		r.record(l, e, report.ActionSkip, "override copy present but not declared")
		return nil
	}
	r.record(l, e, report.ActionReplace, mode.String())
	return nil
}

func (r *run) onLayerRenamed(ctx context.Context, l layer, b bucket, e vcs.ChangeEvent, newSrc string) error {
	if b.exact() {
		if r.opts.Pure {
			return r.lightOverride(l, e, newSrc, true)
		}
		return nil
	}

	if !r.exists(r.dst(newSrc)) {
		if r.opts.Pure {
			return r.lightOverride(l, e, newSrc, true)
		}
		return nil
	}
	if e.Similarity >= 100 {
		return nil
	}

	tree := r.renameTree()
	if err := r.extract(ctx, r.opts.Range.Pre(), e.OldPath, r.auditPath(tree, baseOld, newSrc)); err != nil {
		return err
	}
	if err := r.extract(ctx, r.opts.Range.Post(), e.NewPath, r.auditPath(tree, baseNew, newSrc)); err != nil {
		return err
	}
	r.record(l, e, report.ActionSnapshot, tree)
	return nil
}

// lightOverride creates a Light override for src. With placeholder set, a
// source missing from the working tree is stood in for by an empty file that
// is deleted again afterwards, so only the declaration and the override
// copies remain.
func (r *run) lightOverride(l layer, e vcs.ChangeEvent, src string, placeholder bool) (err error) {
	detail := override.Light.String()
	if placeholder && !safeio.IsFile(r.FS, src) {
		created := r.firstMissingDir(path.Dir(src))
		if err := safeio.WriteFile(r.FS, src, nil); err != nil {
			return err
		}
		defer func() {
			if _, rmErr := safeio.RemoveFile(r.FS, src); rmErr != nil && err == nil {
				err = rmErr
			}
			if created != "" {
				if rmErr := util.RemoveAll(r.FS, created); rmErr != nil && err == nil {
					err = rmErr
				}
			}
		}()
		detail += ", placeholder"
	}

	first, err := r.Editor.Override(override.Record{Src: src, Mode: override.Light})
	if err != nil {
		return r.tolerate(l, e, err)
	}
	if !first {
		r.record(l, e, report.ActionRefresh, detail)
		return nil
	}
	r.record(l, e, report.ActionOverride, detail)
	return nil
}

// tolerate turns per-file override refusals into recorded skips.
func (r *run) tolerate(l layer, e vcs.ChangeEvent, err error) error {
	if errors.Is(err, override.ErrUnsupported) || errors.Is(err, override.ErrNotRegularFile) {
		logger.Warn("override skipped", logger.String("event", e.String()), logger.Err(err))
		r.record(l, e, report.ActionSkip, err.Error())
		return nil
	}
	return err
}

// firstMissingDir returns the outermost ancestor of dir, dir included, that
// does not exist yet.
func (r *run) firstMissingDir(dir string) string {
	missing := ""
	for dir != "." && dir != "/" && dir != "" {
		if safeio.IsDir(r.FS, dir) {
			break
		}
		missing = dir
		dir = path.Dir(dir)
	}
	return missing
}

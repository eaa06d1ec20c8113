// Package reconcile migrates overrides across an upstream change. Each
// classified change of the primary source tree and of the optional secondary
// layer is dispatched to a rule that updates the manifest, the override trees
// and the audit tree.
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/internal/report"
	"github.com/fulmenhq/fwto/internal/snapshot"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5"
)

// DefaultThreshold is the rename similarity used when Options leaves it unset.
const DefaultThreshold = 75

// Audit tree names below <OutputDir>/cbup.
const (
	auditHome   = "cbup"
	notRenamed  = "!R"
	baseOld     = "base.old"
	baseNew     = "base.new"
	overrideDir = "ovrd"
)

// Options controls one run.
type Options struct {
	Range vcs.Range
	// Pure turns every touched file without an override into a Light override.
	Pure bool
	// Threshold is the minimum rename similarity in percent.
	Threshold int
	// Reset hard-resets and cleans the working copy to Range.New first.
	Reset bool
}

// Driver reconciles overrides for one workspace.
type Driver struct {
	VCS    vcs.VCS
	FS     billy.Filesystem
	Editor *override.Editor
	// OutputDir is the workspace-relative audit root.
	OutputDir string
}

type run struct {
	*Driver
	opts      Options
	snap      *snapshot.Extractor
	summary   *report.Summary
	renameLog bytes.Buffer
}

// Run reconciles both layers for opts.Range. Classification failures and
// worktree operation failures are logged and recorded; filesystem and
// manifest failures abort the run without rolling back earlier changes.
func (d *Driver) Run(ctx context.Context, opts Options) (*report.Summary, error) {
	if opts.Range.New == "" {
		return nil, fmt.Errorf("no revision to reconcile")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	r := &run{
		Driver: d,
		opts:   opts,
		snap:   &snapshot.Extractor{VCS: d.VCS, FS: d.FS},
		summary: &report.Summary{
			Range:     opts.Range.String(),
			Pure:      opts.Pure,
			Threshold: opts.Threshold,
		},
	}

	if opts.Reset {
		if err := d.VCS.ResetHard(ctx, opts.Range.New); err != nil {
			r.warn("reset failed", err)
		}
		if err := d.VCS.Clean(ctx); err != nil {
			r.warn("clean failed", err)
		}
	}

	m := d.Editor.Materializer
	if err := r.reconcile(ctx, r.primary(m)); err != nil {
		return r.summary, err
	}

	if m.Secondary != "" {
		if safeio.IsDir(d.FS, m.Secondary) {
			if err := r.reconcile(ctx, r.secondary(m)); err != nil {
				return r.summary, err
			}
		} else {
			r.warn("secondary layer is set but not a directory", fmt.Errorf("%s", m.Secondary))
		}
	}

	if err := r.flushRenameLog(); err != nil {
		return r.summary, err
	}

	if opts.Pure {
		if err := d.VCS.RevertNoCommit(ctx, opts.Range.New); err != nil {
			r.warn("revert failed", err)
		}
	}

	logger.Info("reconciliation finished",
		logger.String("range", opts.Range.String()),
		logger.Int("actions", len(r.summary.Actions)),
		logger.Int("skipped_buckets", len(r.summary.Skipped)))
	return r.summary, nil
}

func (r *run) warn(msg string, err error) {
	logger.Warn(msg, logger.Err(err))
	r.summary.Warnings = append(r.summary.Warnings, msg+": "+err.Error())
}

func (r *run) auditPath(tree, kind, src string) string {
	return path.Join(r.OutputDir, auditHome, tree, kind, src)
}

func (r *run) renameTree() string {
	return fmt.Sprintf("R%d", r.opts.Threshold)
}

func (r *run) renameLogPath() string {
	return path.Join(r.OutputDir, auditHome, r.renameTree(), r.renameTree()+".log")
}

func (r *run) logRename(e vcs.ChangeEvent) {
	_, _ = fmt.Fprintf(&r.renameLog, "R%d %s %s\r\n", e.Similarity, e.OldPath, e.NewPath)
}

// flushRenameLog writes the partial-rename log, or removes a stale one when
// nothing was logged.
func (r *run) flushRenameLog() error {
	p := r.renameLogPath()
	if r.renameLog.Len() == 0 {
		_, err := safeio.RemoveFile(r.FS, p)
		return err
	}
	return safeio.WriteFile(r.FS, p, r.renameLog.Bytes())
}

func (r *run) exists(p string) bool {
	return safeio.IsFile(r.FS, p)
}

func (r *run) extract(ctx context.Context, ref vcs.Ref, src, dest string) error {
	_, err := r.snap.ExtractAt(ctx, ref, src, dest)
	return err
}

func (r *run) mode() override.Mode {
	if r.opts.Pure {
		return override.Light
	}
	return override.Normal
}

func stripDir(dir string) func(string) (string, bool) {
	return func(p string) (string, bool) { return vcs.TrimScope(dir, p) }
}

package reconcile

import (
	"context"
	"fmt"

	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/internal/report"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/logger"
)

// layer describes one override layer: which changes belong to it, how its
// paths map to source paths and whether it owns manifest declarations.
type layer struct {
	name         string
	scope        []string
	exclude      bool
	ownsManifest bool
	translate    func(string) (string, bool)
}

func identity(p string) (string, bool) { return p, true }

// primary covers the source tree outside the override directories.
func (r *run) primary(m *override.Materializer) layer {
	var scope []string
	for _, dir := range []string{m.Secondary, m.Dst, m.Org, r.OutputDir} {
		if dir != "" {
			scope = append(scope, dir)
		}
	}
	return layer{
		name:         "primary",
		scope:        scope,
		exclude:      true,
		ownsManifest: true,
		translate:    identity,
	}
}

// secondary covers the vendor layer; its paths lose the layer prefix.
func (r *run) secondary(m *override.Materializer) layer {
	return layer{
		name:      "secondary",
		scope:     []string{m.Secondary},
		translate: stripDir(m.Secondary),
	}
}

type bucket struct {
	filter    string
	threshold int
}

func (b bucket) String() string {
	return fmt.Sprintf("%s@%d", b.filter, b.threshold)
}

// exact reports whether the bucket only carries identical-content renames.
func (b bucket) exact() bool {
	return b.filter == "R" && b.threshold >= 100
}

func (r *run) buckets(l layer) []bucket {
	t := r.opts.Threshold
	var out []bucket
	if r.opts.Pure || !l.ownsManifest {
		out = append(out, bucket{"A", t})
	}
	out = append(out, bucket{"D", t}, bucket{"M", t}, bucket{"R", 100})
	if t < 100 {
		out = append(out, bucket{"R", t})
	}
	return out
}

func (r *run) reconcile(ctx context.Context, l layer) error {
	for _, b := range r.buckets(l) {
		events, err := r.VCS.Classify(ctx, vcs.Query{
			Range:     r.opts.Range,
			Filter:    b.filter,
			Scope:     l.scope,
			Exclude:   l.exclude,
			Threshold: b.threshold,
		})
		if err != nil {
			logger.Warn("classification failed, bucket skipped",
				logger.String("layer", l.name), logger.String("bucket", b.String()), logger.Err(err))
			r.summary.Skipped = append(r.summary.Skipped, fmt.Sprintf("%s %s: %v", l.name, b, err))
			continue
		}

		logger.Debug("bucket classified", logger.String("layer", l.name),
			logger.String("bucket", b.String()), logger.Int("events", len(events)))
		for _, e := range events {
			if err := r.dispatch(ctx, l, b, e); err != nil {
				return fmt.Errorf("%s layer, %s: %w", l.name, e, err)
			}
		}
	}
	return nil
}

func (r *run) dispatch(ctx context.Context, l layer, b bucket, e vcs.ChangeEvent) error {
	oldSrc, okOld := l.translate(e.OldPath)
	newSrc, okNew := l.translate(e.NewPath)
	if !okOld || !okNew {
		logger.Info("path outside layer, skipped", logger.String("layer", l.name), logger.String("event", e.String()))
		r.record(l, e, report.ActionSkip, "outside layer")
		return nil
	}

	switch e.Status {
	case vcs.Added:
		return r.onAdded(ctx, l, e, newSrc)
	case vcs.Deleted:
		return r.onDeleted(ctx, l, e, oldSrc)
	case vcs.Modified:
		return r.onModified(ctx, l, e, newSrc)
	case vcs.RenamedExact, vcs.RenamedPartial:
		return r.onRenamed(ctx, l, b, e, oldSrc, newSrc)
	default:
		return nil
	}
}

func (r *run) record(l layer, e vcs.ChangeEvent, action, detail string) {
	a := report.Action{
		Layer:  l.name,
		Status: e.Status.String(),
		Path:   e.OldPath,
		Action: action,
		Detail: detail,
	}
	if e.Status == vcs.RenamedExact || e.Status == vcs.RenamedPartial {
		a.NewPath = e.NewPath
		a.Similarity = e.Similarity
	}
	r.summary.Add(a)
}

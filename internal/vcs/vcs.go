// Package vcs classifies upstream changes between two revisions and reads
// file content at a revision. Git is the production implementation; Fake
// serves tests.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotFound is returned by Extract when a path does not exist at a revision.
var ErrNotFound = errors.New("path not found at revision")

// Status is the classification of one upstream change.
type Status int

const (
	Added Status = iota
	Deleted
	Modified
	RenamedExact
	RenamedPartial
)

func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case RenamedExact:
		return "renamed-exact"
	case RenamedPartial:
		return "renamed-partial"
	default:
		return "unknown"
	}
}

// Letter is the diff-filter letter selecting this status.
func (s Status) Letter() byte {
	switch s {
	case Added:
		return 'A'
	case Deleted:
		return 'D'
	case Modified:
		return 'M'
	default:
		return 'R'
	}
}

// ChangeEvent is one classified change. OldPath equals NewPath unless the
// change is a rename. Similarity is set for renames only.
type ChangeEvent struct {
	Status     Status `json:"status" yaml:"status"`
	Similarity int    `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	OldPath    string `json:"old_path" yaml:"old_path"`
	NewPath    string `json:"new_path" yaml:"new_path"`
}

func (e ChangeEvent) String() string {
	switch e.Status {
	case RenamedExact, RenamedPartial:
		return fmt.Sprintf("R%03d %s -> %s", e.Similarity, e.OldPath, e.NewPath)
	default:
		return fmt.Sprintf("%c %s", e.Status.Letter(), e.NewPath)
	}
}

// Ref names a tree: a revision, or the first parent of a revision.
type Ref struct {
	Rev    string
	Parent bool
}

func (r Ref) String() string {
	if r.Parent {
		return r.Rev + "~1"
	}
	return r.Rev
}

// Range is the pair of revisions compared by a run. An empty Old compares New
// against its first parent.
type Range struct {
	Old string `json:"old,omitempty" yaml:"old,omitempty" toml:"old,omitempty"`
	New string `json:"new" yaml:"new" toml:"new"`
}

// Pre returns the pre-image ref.
func (r Range) Pre() Ref {
	if r.Old != "" {
		return Ref{Rev: r.Old}
	}
	return Ref{Rev: r.New, Parent: true}
}

// Post returns the post-image ref.
func (r Range) Post() Ref {
	return Ref{Rev: r.New}
}

func (r Range) String() string {
	if r.Old == "" {
		return r.New
	}
	return r.Old + ".." + r.New
}

// Query selects one bucket of changes.
type Query struct {
	Range Range
	// Filter is any combination of the letters A, D, M and R.
	Filter string
	// Scope limits the query to paths below these directories; with Exclude
	// set it selects everything else instead.
	Scope   []string
	Exclude bool
	// Threshold is the minimum rename similarity in percent. Weaker renames
	// surface as an add plus a delete.
	Threshold int
}

// VCS is the revision-control collaborator used by reconciliation and review.
type VCS interface {
	Classify(ctx context.Context, q Query) ([]ChangeEvent, error)
	Extract(ctx context.Context, ref Ref, path string) ([]byte, error)
	ResetHard(ctx context.Context, rev string) error
	Clean(ctx context.Context) error
	RevertNoCommit(ctx context.Context, rev string) error
}

// ExistingDirs drops scope directories for which exists reports false.
func ExistingDirs(scope []string, exists func(string) bool) []string {
	var out []string
	for _, dir := range scope {
		dir = strings.Trim(path.Clean(strings.ReplaceAll(dir, `\`, "/")), "/")
		if dir == "" || dir == "." {
			continue
		}
		if exists == nil || exists(dir) {
			out = append(out, dir)
		}
	}
	return out
}

// InScope reports whether p is selected by a scope that ExistingDirs already
// filtered. An empty scope selects everything.
func InScope(p string, scope []string, exclude bool) bool {
	if len(scope) == 0 {
		return true
	}
	under := false
	for _, dir := range scope {
		if ok, _ := doublestar.Match(dir+"/**", p); ok {
			under = true
			break
		}
	}
	return under != exclude
}

// TrimScope returns p relative to dir. Matching is case-insensitive; false
// means p is not below dir.
func TrimScope(dir, p string) (string, bool) {
	prefix := strings.TrimSuffix(strings.ReplaceAll(dir, `\`, "/"), "/") + "/"
	if len(p) <= len(prefix) || !strings.EqualFold(p[:len(prefix)], prefix) {
		return "", false
	}
	return p[len(prefix):], true
}

package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// Fake is an in-memory VCS. Events registered for a range are filtered the way
// git filters them: scope first, then rename threshold, then status filter.
// A Fake is not safe for concurrent use.
type Fake struct {
	// FS, when set, decides which scope directories exist.
	FS billy.Filesystem

	trees   map[string]map[string][]byte
	parents map[string]string
	events  map[Range][]ChangeEvent
	fail    map[string]error
	calls   []string
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		trees:   map[string]map[string][]byte{},
		parents: map[string]string{},
		events:  map[Range][]ChangeEvent{},
		fail:    map[string]error{},
	}
}

// SetFile stores content for p at rev.
func (f *Fake) SetFile(rev, p string, content []byte) {
	if f.trees[rev] == nil {
		f.trees[rev] = map[string][]byte{}
	}
	f.trees[rev][p] = content
}

// SetParent records parent as the first parent of rev.
func (f *Fake) SetParent(rev, parent string) {
	f.parents[rev] = parent
}

// AddEvents registers the full set of changes between the revisions of r as
// git would report them with exact rename detection down to Similarity.
func (f *Fake) AddEvents(r Range, events ...ChangeEvent) {
	f.events[r] = append(f.events[r], events...)
}

// FailBucket makes Classify fail for queries with this filter and threshold.
func (f *Fake) FailBucket(filter string, threshold int, err error) {
	f.fail[bucketKey(filter, threshold)] = err
}

// FailOp makes a worktree operation (reset, clean, revert) fail.
func (f *Fake) FailOp(op string, err error) {
	f.fail[op] = err
}

// Calls returns the worktree operations performed so far.
func (f *Fake) Calls() []string {
	return append([]string(nil), f.calls...)
}

func bucketKey(filter string, threshold int) string {
	return fmt.Sprintf("%s@%d", filter, threshold)
}

// Classify returns the registered events of q.Range selected by q.
func (f *Fake) Classify(_ context.Context, q Query) ([]ChangeEvent, error) {
	if err, ok := f.fail[bucketKey(q.Filter, q.Threshold)]; ok {
		return nil, err
	}

	var exists func(string) bool
	if f.FS != nil {
		exists = func(dir string) bool {
			st, err := f.FS.Stat(dir)
			return err == nil && st.IsDir()
		}
	}
	scope := ExistingDirs(q.Scope, exists)
	in := func(p string) bool { return InScope(p, scope, q.Exclude) }
	wants := func(s Status) bool { return strings.IndexByte(q.Filter, s.Letter()) >= 0 }

	var out []ChangeEvent
	for _, e := range f.events[q.Range] {
		if e.Status != RenamedExact && e.Status != RenamedPartial {
			if in(e.NewPath) && wants(e.Status) {
				out = append(out, e)
			}
			continue
		}

		oldIn, newIn := in(e.OldPath), in(e.NewPath)
		if oldIn && newIn && e.Similarity >= q.Threshold {
			if wants(e.Status) {
				out = append(out, e)
			}
			continue
		}
		if oldIn && wants(Deleted) {
			out = append(out, ChangeEvent{Status: Deleted, OldPath: e.OldPath, NewPath: e.OldPath})
		}
		if newIn && wants(Added) {
			out = append(out, ChangeEvent{Status: Added, OldPath: e.NewPath, NewPath: e.NewPath})
		}
	}
	return out, nil
}

// Extract returns the content of p at ref.
func (f *Fake) Extract(_ context.Context, ref Ref, p string) ([]byte, error) {
	rev := ref.Rev
	if ref.Parent {
		parent, ok := f.parents[rev]
		if !ok {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		rev = parent
	}
	data, ok := f.trees[rev][p]
	if !ok {
		return nil, fmt.Errorf("%s at %s: %w", p, ref, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (f *Fake) record(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[strings.Fields(op)[0]]
}

func (f *Fake) ResetHard(_ context.Context, rev string) error { return f.record("reset " + rev) }

func (f *Fake) Clean(_ context.Context) error { return f.record("clean") }

func (f *Fake) RevertNoCommit(_ context.Context, rev string) error {
	return f.record("revert " + rev)
}

package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Git answers queries against a git working copy. Status classification and
// worktree mutations go through the git CLI; content extraction uses go-git.
type Git struct {
	// Root is the workspace directory; classified paths are relative to it.
	Root string
	// Binary is the git executable, "git" when empty.
	Binary string

	repo *git.Repository
	// prefix is Root relative to the repository top level.
	prefix string
}

// OpenGit opens the repository containing root.
func OpenGit(root string) (*Git, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", abs, err)
	}

	g := &Git{Root: abs, repo: repo}
	if wt, err := repo.Worktree(); err == nil {
		top := wt.Filesystem.Root()
		if resolved, err := filepath.EvalSymlinks(top); err == nil {
			top = resolved
		}
		self := abs
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			self = resolved
		}
		if rel, err := filepath.Rel(top, self); err == nil && rel != "." {
			g.prefix = filepath.ToSlash(rel)
		}
	}
	return g, nil
}

func (g *Git) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "git"
}

func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.binary(), args...) // #nosec G204 -- fixed git subcommands
	cmd.Dir = g.Root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out, fmt.Errorf("git %s: %w", args[0], err)
		}
		return out, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return out, nil
}

// Classify runs one name-status query for q.
func (g *Git) Classify(ctx context.Context, q Query) ([]ChangeEvent, error) {
	args := queryArgs(q, ExistingDirs(q.Scope, g.dirExists))
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out)
}

func (g *Git) dirExists(dir string) bool {
	st, err := os.Stat(filepath.Join(g.Root, filepath.FromSlash(dir)))
	return err == nil && st.IsDir()
}

func queryArgs(q Query, scope []string) []string {
	var args []string
	if q.Range.Old == "" {
		args = append(args, "show", "--format=")
	} else {
		args = append(args, "diff")
	}
	args = append(args,
		"-z",
		"--name-status",
		"--relative",
		"--find-renames="+strconv.Itoa(q.Threshold)+"%",
		"--diff-filter="+q.Filter,
	)
	if q.Range.Old == "" {
		args = append(args, q.Range.New)
	} else {
		args = append(args, q.Range.Old, q.Range.New)
	}

	args = append(args, "--")
	for _, dir := range scope {
		if q.Exclude {
			args = append(args, ":(exclude)"+dir)
		} else {
			args = append(args, dir)
		}
	}
	return args
}

// Extract returns the content of p at ref.
func (g *Git) Extract(_ context.Context, ref Ref, p string) ([]byte, error) {
	hash, err := g.repo.ResolveRevision(plumbing.Revision(ref.String()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", ref, ErrNotFound, err)
	}
	commit, err := g.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", ref, err)
	}

	name := filepath.ToSlash(p)
	if g.prefix != "" {
		name = path.Join(g.prefix, name)
	}
	file, err := commit.File(name)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s at %s: %w", p, ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up %s at %s: %w", p, ref, err)
	}

	r, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at %s: %w", p, ref, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// ResetHard moves the working copy to rev, discarding local changes.
func (g *Git) ResetHard(ctx context.Context, rev string) error {
	_, err := g.run(ctx, "reset", "--hard", rev)
	return err
}

// Clean removes untracked and ignored files.
func (g *Git) Clean(ctx context.Context) error {
	_, err := g.run(ctx, "clean", "-xfd")
	return err
}

// RevertNoCommit applies the inverse of rev to the working copy without committing.
func (g *Git) RevertNoCommit(ctx context.Context, rev string) error {
	_, err := g.run(ctx, "revert", "--no-commit", rev)
	return err
}

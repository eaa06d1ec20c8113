package reconcile

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/fulmenhq/fwto/internal/manifest"
	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/internal/report"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseManifest = "<component>\r\n\tname = \"Oem\"\r\n<endComponent>\r\n"

var head = vcs.Range{New: "c2"}

type fixture struct {
	fs     billy.Filesystem
	vcs    *vcs.Fake
	driver *Driver
}

func newFixture(t *testing.T, secondary string) *fixture {
	t.Helper()
	fs := memfs.New()
	write(t, fs, "Oem/Oem.cif", baseManifest)
	require.NoError(t, fs.MkdirAll("Oem/Override", 0o755))
	require.NoError(t, fs.MkdirAll("Oem/Org", 0o755))

	fake := vcs.NewFake()
	fake.FS = fs
	fake.SetParent("c2", "c1")

	m := &override.Materializer{FS: fs, Dst: "Oem/Override", Org: "Oem/Org", Secondary: secondary}
	editor := &override.Editor{
		Manifest:     &manifest.File{FS: fs, Path: "Oem/Oem.cif", Terminator: "<endComponent>"},
		Materializer: m,
		Unsupported:  []string{"**/*.cif", "**/*.sdl"},
	}
	return &fixture{
		fs:     fs,
		vcs:    fake,
		driver: &Driver{VCS: fake, FS: fs, Editor: editor, OutputDir: "0.fwto"},
	}
}

// declare sets up an existing Normal override of src.
func (f *fixture) declare(t *testing.T, src, custom, baseline string) {
	t.Helper()
	write(t, f.fs, "Oem/Override/"+src, custom)
	write(t, f.fs, "Oem/Org/"+src, baseline)
	require.NoError(t, f.driver.Editor.Append(override.Record{Src: src}))
}

func (f *fixture) run(t *testing.T, opts Options) *report.Summary {
	t.Helper()
	summary, err := f.driver.Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, summary)
	return summary
}

func (f *fixture) manifest(t *testing.T) string {
	t.Helper()
	return read(t, f.fs, "Oem/Oem.cif")
}

func write(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	if i := strings.LastIndex(name, "/"); i > 0 {
		require.NoError(t, fs.MkdirAll(name[:i], 0o755))
	}
	require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
}

func read(t *testing.T, fs billy.Filesystem, name string) string {
	t.Helper()
	data, err := util.ReadFile(fs, name)
	require.NoError(t, err, name)
	return string(data)
}

func exists(fs billy.Filesystem, name string) bool {
	_, err := fs.Stat(name)
	return err == nil
}

// tree captures every directory and file below the workspace roots used here.
func tree(t *testing.T, fs billy.Filesystem) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, root := range []string{"Oem", "Pkg", "0.fwto"} {
		err := util.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				out[p+"/"] = ""
				return nil
			}
			data, err := util.ReadFile(fs, p)
			if err != nil {
				return err
			}
			out[p] = string(data)
			return nil
		})
		require.NoError(t, err)
	}
	return out
}

func TestRunRequiresRevision(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.driver.Run(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRunPartialRenameMovesOverride(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "Pkg/B.c", "new")
	f.declare(t, "Pkg/A.c", "custom", "old")

	f.vcs.SetFile("c1", "Pkg/A.c", []byte("old"))
	f.vcs.SetFile("c2", "Pkg/B.c", []byte("new"))
	f.vcs.SetFile("c2", "Oem/Override/Pkg/A.c", []byte("custom"))
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.RenamedPartial, Similarity: 80, OldPath: "Pkg/A.c", NewPath: "Pkg/B.c"})

	summary := f.run(t, Options{Range: head, Threshold: 75})

	assert.Equal(t, 1, summary.Count(report.ActionReplace))

	m := f.manifest(t)
	assert.Equal(t, 1, strings.Count(m, `"Override/Pkg/B.c";"Pkg/B.c"`))
	assert.NotContains(t, m, "Pkg/A.c")

	assert.Equal(t, "custom", read(t, f.fs, "Oem/Override/Pkg/B.c"))
	assert.Equal(t, "new", read(t, f.fs, "Oem/Org/Pkg/B.c"))
	assert.False(t, exists(f.fs, "Oem/Override/Pkg/A.c"))
	assert.False(t, exists(f.fs, "Oem/Org/Pkg/A.c"))

	assert.Equal(t, "R80 Pkg/A.c Pkg/B.c\r\n", read(t, f.fs, "0.fwto/cbup/R75/R75.log"))
	assert.Equal(t, "old", read(t, f.fs, "0.fwto/cbup/R75/base.old/Pkg/B.c"))
	assert.Equal(t, "new", read(t, f.fs, "0.fwto/cbup/R75/base.new/Pkg/B.c"))
	assert.Equal(t, "custom", read(t, f.fs, "0.fwto/cbup/R75/ovrd/Pkg/B.c"))
}

func TestRunExactRenameWritesNoLog(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "Pkg/B.c", "same")
	f.declare(t, "Pkg/A.c", "custom", "same")
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.RenamedExact, Similarity: 100, OldPath: "Pkg/A.c", NewPath: "Pkg/B.c"})

	summary := f.run(t, Options{Range: head, Threshold: 75})

	assert.Equal(t, 1, summary.Count(report.ActionReplace))
	assert.Equal(t, 1, strings.Count(f.manifest(t), `"Override/Pkg/B.c";"Pkg/B.c"`))
	assert.Equal(t, "custom", read(t, f.fs, "Oem/Override/Pkg/B.c"))
	assert.False(t, exists(f.fs, "0.fwto/cbup/R75/R75.log"))
	assert.False(t, exists(f.fs, "0.fwto/cbup/R75/base.old"))
}

func TestRunWithoutOverridesChangesNothing(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "Pkg/M.c", "v2")
	write(t, f.fs, "Pkg/N.c", "added")
	f.vcs.AddEvents(head,
		vcs.ChangeEvent{Status: vcs.Deleted, OldPath: "Pkg/X.c", NewPath: "Pkg/X.c"},
		vcs.ChangeEvent{Status: vcs.Modified, OldPath: "Pkg/M.c", NewPath: "Pkg/M.c"},
		vcs.ChangeEvent{Status: vcs.Added, OldPath: "Pkg/N.c", NewPath: "Pkg/N.c"},
		vcs.ChangeEvent{Status: vcs.RenamedPartial, Similarity: 90, OldPath: "Pkg/O.c", NewPath: "Pkg/P.c"},
	)
	before := tree(t, f.fs)

	summary := f.run(t, Options{Range: head})

	assert.Equal(t, before, tree(t, f.fs))
	assert.Empty(t, summary.Actions)
	assert.Empty(t, f.vcs.Calls())
}

func TestRunDeletedSourceRemovesOverride(t *testing.T) {
	f := newFixture(t, "")
	f.declare(t, "Pkg/A.c", "custom", "old")
	f.vcs.SetFile("c1", "Pkg/A.c", []byte("old"))
	f.vcs.SetFile("c2", "Oem/Override/Pkg/A.c", []byte("custom"))
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Deleted, OldPath: "Pkg/A.c", NewPath: "Pkg/A.c"})

	summary := f.run(t, Options{Range: head})

	assert.Equal(t, 1, summary.Count(report.ActionRemove))
	assert.Equal(t, baseManifest, f.manifest(t))
	assert.False(t, exists(f.fs, "Oem/Override/Pkg/A.c"))
	assert.False(t, exists(f.fs, "Oem/Org/Pkg/A.c"))
	assert.Equal(t, "old", read(t, f.fs, "0.fwto/cbup/!R/base.old/Pkg/A.c"))
	assert.Equal(t, "custom", read(t, f.fs, "0.fwto/cbup/!R/ovrd/Pkg/A.c"))
}

func TestRunModifiedSourceRefreshesBaseline(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "Pkg/A.c", "v2")
	f.declare(t, "Pkg/A.c", "custom", "v1")
	f.vcs.SetFile("c1", "Pkg/A.c", []byte("v1"))
	f.vcs.SetFile("c2", "Pkg/A.c", []byte("v2"))
	f.vcs.SetFile("c2", "Oem/Override/Pkg/A.c", []byte("custom"))
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Modified, OldPath: "Pkg/A.c", NewPath: "Pkg/A.c"})
	manifestBefore := f.manifest(t)

	summary := f.run(t, Options{Range: head})

	require.Len(t, summary.Actions, 1)
	assert.Equal(t, report.ActionRefresh, summary.Actions[0].Action)
	assert.Equal(t, manifestBefore, f.manifest(t))
	assert.Equal(t, "custom", read(t, f.fs, "Oem/Override/Pkg/A.c"))
	assert.Equal(t, "v2", read(t, f.fs, "Oem/Org/Pkg/A.c"))
	assert.Equal(t, "v1", read(t, f.fs, "0.fwto/cbup/!R/base.old/Pkg/A.c"))
	assert.Equal(t, "v2", read(t, f.fs, "0.fwto/cbup/!R/base.new/Pkg/A.c"))
	assert.Equal(t, "custom", read(t, f.fs, "0.fwto/cbup/!R/ovrd/Pkg/A.c"))
}

func pureEvents() []vcs.ChangeEvent {
	return []vcs.ChangeEvent{
		{Status: vcs.Added, OldPath: "Pkg/N.c", NewPath: "Pkg/N.c"},
		{Status: vcs.Modified, OldPath: "Pkg/M.c", NewPath: "Pkg/M.c"},
		{Status: vcs.RenamedPartial, Similarity: 80, OldPath: "Pkg/O.c", NewPath: "Pkg/P.c"},
		{Status: vcs.Deleted, OldPath: "Pkg/D.c", NewPath: "Pkg/D.c"},
	}
}

func TestRunPureOverridesEveryTouchedFile(t *testing.T) {
	f := newFixture(t, "")
	for _, name := range []string{"Pkg/N.c", "Pkg/M.c", "Pkg/P.c"} {
		write(t, f.fs, name, name)
	}
	f.vcs.AddEvents(head, pureEvents()...)

	summary := f.run(t, Options{Range: head, Pure: true})

	assert.Equal(t, 3, summary.Count(report.ActionOverride))
	m := f.manifest(t)
	for _, src := range []string{"Pkg/N.c", "Pkg/M.c", "Pkg/P.c"} {
		assert.Equal(t, 1, strings.Count(m, `"Override/`+src+`";"`+src+`"`), src)
		assert.Equal(t, src, read(t, f.fs, "Oem/Override/"+src))
		assert.False(t, exists(f.fs, "Oem/Org/"+src), "light overrides keep no baseline")
	}
	assert.Equal(t, []string{"revert c2"}, f.vcs.Calls())
}

func TestRunNonPureIgnoresUnoverriddenFiles(t *testing.T) {
	f := newFixture(t, "")
	for _, name := range []string{"Pkg/N.c", "Pkg/M.c", "Pkg/P.c"} {
		write(t, f.fs, name, name)
	}
	f.vcs.AddEvents(head, pureEvents()...)

	summary := f.run(t, Options{Range: head})

	assert.Zero(t, summary.Count(report.ActionOverride))
	assert.Equal(t, baseManifest, f.manifest(t))
	assert.Empty(t, f.vcs.Calls())
}

func TestRunPureSkipsUnsupportedSources(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "Pkg/Board.sdl", "tokens")
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Added, OldPath: "Pkg/Board.sdl", NewPath: "Pkg/Board.sdl"})

	summary := f.run(t, Options{Range: head, Pure: true})

	require.Len(t, summary.Actions, 1)
	assert.Equal(t, report.ActionSkip, summary.Actions[0].Action)
	assert.Equal(t, baseManifest, f.manifest(t))
	assert.False(t, exists(f.fs, "Oem/Override/Pkg/Board.sdl"))
}

func TestRunRecordsFailedBucket(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "Pkg/A.c", "v2")
	f.declare(t, "Pkg/A.c", "custom", "v1")
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Modified, OldPath: "Pkg/A.c", NewPath: "Pkg/A.c"})
	f.vcs.FailBucket("M", 75, errors.New("bad object"))

	summary := f.run(t, Options{Range: head})

	require.Len(t, summary.Skipped, 1)
	assert.Contains(t, summary.Skipped[0], "primary M@75")
	assert.Empty(t, summary.Actions)
	assert.Equal(t, "v1", read(t, f.fs, "Oem/Org/Pkg/A.c"))
}

func TestRunSecondaryModifiedSnapshots(t *testing.T) {
	f := newFixture(t, "Oem/Ibv")
	write(t, f.fs, "Oem/Ibv/Pkg/S.c", "vendor v2")
	write(t, f.fs, "Pkg/S.c", "base")
	f.declare(t, "Pkg/S.c", "custom", "base")
	f.vcs.SetFile("c1", "Oem/Ibv/Pkg/S.c", []byte("vendor v1"))
	f.vcs.SetFile("c2", "Oem/Ibv/Pkg/S.c", []byte("vendor v2"))
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Modified, OldPath: "Oem/Ibv/Pkg/S.c", NewPath: "Oem/Ibv/Pkg/S.c"})

	summary := f.run(t, Options{Range: head})

	require.Len(t, summary.Actions, 1, "primary layer must not see secondary changes")
	assert.Equal(t, "secondary", summary.Actions[0].Layer)
	assert.Equal(t, report.ActionSnapshot, summary.Actions[0].Action)
	assert.Equal(t, "vendor v1", read(t, f.fs, "0.fwto/cbup/!R/base.old/Pkg/S.c"))
	assert.Equal(t, "vendor v2", read(t, f.fs, "0.fwto/cbup/!R/base.new/Pkg/S.c"))
	assert.Equal(t, "custom", read(t, f.fs, "Oem/Override/Pkg/S.c"))
}

func TestRunSecondaryAddedUsesPlaceholder(t *testing.T) {
	f := newFixture(t, "Oem/Ibv")
	write(t, f.fs, "Oem/Ibv/Pkg/New.c", "vendor")
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Added, OldPath: "Oem/Ibv/Pkg/New.c", NewPath: "Oem/Ibv/Pkg/New.c"})

	summary := f.run(t, Options{Range: head, Pure: true})

	require.Len(t, summary.Actions, 1)
	a := summary.Actions[0]
	assert.Equal(t, "secondary", a.Layer)
	assert.Equal(t, report.ActionOverride, a.Action)
	assert.Contains(t, a.Detail, "placeholder")

	assert.Equal(t, 1, strings.Count(f.manifest(t), `"Override/Pkg/New.c";"Pkg/New.c"`))
	assert.Equal(t, "vendor", read(t, f.fs, "Oem/Override/Pkg/New.c"))
	assert.False(t, exists(f.fs, "Pkg/New.c"), "placeholder must be removed")
	assert.False(t, exists(f.fs, "Pkg"), "placeholder directories must be removed")
}

func TestRunSecondaryDeletedSnapshotsPreImage(t *testing.T) {
	f := newFixture(t, "Oem/Ibv")
	require.NoError(t, f.fs.MkdirAll("Oem/Ibv", 0o755))
	write(t, f.fs, "Pkg/D.c", "base")
	f.declare(t, "Pkg/D.c", "custom", "base")
	f.vcs.SetFile("c1", "Oem/Ibv/Pkg/D.c", []byte("vendor v1"))
	f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Deleted, OldPath: "Oem/Ibv/Pkg/D.c", NewPath: "Oem/Ibv/Pkg/D.c"})
	before := f.manifest(t)

	summary := f.run(t, Options{Range: head})

	require.Len(t, summary.Actions, 1)
	assert.Equal(t, "secondary", summary.Actions[0].Layer)
	assert.Equal(t, report.ActionSnapshot, summary.Actions[0].Action)
	assert.Equal(t, "vendor v1", read(t, f.fs, "0.fwto/cbup/!R/base.old/Pkg/D.c"))
	assert.False(t, exists(f.fs, "0.fwto/cbup/!R/base.new/Pkg/D.c"))
	assert.Equal(t, before, f.manifest(t))
	assert.Equal(t, "custom", read(t, f.fs, "Oem/Override/Pkg/D.c"))
}

func TestRunSecondaryAddedSnapshotsPostImage(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{"override present", func(t *testing.T, f *fixture) {
			write(t, f.fs, "Pkg/N.c", "base")
			f.declare(t, "Pkg/N.c", "custom", "base")
		}},
		{"snapshot present", func(t *testing.T, f *fixture) {
			write(t, f.fs, "0.fwto/cbup/!R/base.new/Pkg/N.c", "stale")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "Oem/Ibv")
			write(t, f.fs, "Oem/Ibv/Pkg/N.c", "vendor v2")
			tt.setup(t, f)
			f.vcs.SetFile("c2", "Oem/Ibv/Pkg/N.c", []byte("vendor v2"))
			f.vcs.AddEvents(head, vcs.ChangeEvent{Status: vcs.Added, OldPath: "Oem/Ibv/Pkg/N.c", NewPath: "Oem/Ibv/Pkg/N.c"})
			before := f.manifest(t)

			summary := f.run(t, Options{Range: head})

			require.Len(t, summary.Actions, 1)
			assert.Equal(t, report.ActionSnapshot, summary.Actions[0].Action)
			assert.Equal(t, "vendor v2", read(t, f.fs, "0.fwto/cbup/!R/base.new/Pkg/N.c"))
			assert.Equal(t, before, f.manifest(t))
		})
	}
}

func TestRunSecondaryPartialRenameSnapshotsUnderNewPath(t *testing.T) {
	f := newFixture(t, "Oem/Ibv")
	write(t, f.fs, "Oem/Ibv/Pkg/New.c", "vendor v2")
	write(t, f.fs, "Pkg/New.c", "base")
	f.declare(t, "Pkg/New.c", "custom", "base")
	f.vcs.SetFile("c1", "Oem/Ibv/Pkg/Old.c", []byte("vendor v1"))
	f.vcs.SetFile("c2", "Oem/Ibv/Pkg/New.c", []byte("vendor v2"))
	f.vcs.AddEvents(head, vcs.ChangeEvent{
		Status: vcs.RenamedPartial, Similarity: 80,
		OldPath: "Oem/Ibv/Pkg/Old.c", NewPath: "Oem/Ibv/Pkg/New.c",
	})
	before := f.manifest(t)

	summary := f.run(t, Options{Range: head})

	require.Len(t, summary.Actions, 1)
	a := summary.Actions[0]
	assert.Equal(t, "secondary", a.Layer)
	assert.Equal(t, report.ActionSnapshot, a.Action)
	assert.Equal(t, "R75", a.Detail)
	assert.Equal(t, "vendor v1", read(t, f.fs, "0.fwto/cbup/R75/base.old/Pkg/New.c"))
	assert.Equal(t, "vendor v2", read(t, f.fs, "0.fwto/cbup/R75/base.new/Pkg/New.c"))
	assert.False(t, exists(f.fs, "0.fwto/cbup/R75/base.old/Pkg/Old.c"))
	assert.False(t, exists(f.fs, "0.fwto/cbup/R75/R75.log"))
	assert.Equal(t, before, f.manifest(t))
	assert.Equal(t, "custom", read(t, f.fs, "Oem/Override/Pkg/New.c"))
}

func TestRunSecondaryExactRenamePureOverridesNewPath(t *testing.T) {
	f := newFixture(t, "Oem/Ibv")
	write(t, f.fs, "Oem/Ibv/Pkg/Y.c", "vendor")
	f.vcs.AddEvents(head, vcs.ChangeEvent{
		Status: vcs.RenamedExact, Similarity: 100,
		OldPath: "Oem/Ibv/Pkg/X.c", NewPath: "Oem/Ibv/Pkg/Y.c",
	})

	summary := f.run(t, Options{Range: head, Pure: true})

	require.Len(t, summary.Actions, 1)
	a := summary.Actions[0]
	assert.Equal(t, "secondary", a.Layer)
	assert.Equal(t, report.ActionOverride, a.Action)
	assert.Contains(t, a.Detail, "placeholder")

	m := f.manifest(t)
	assert.Equal(t, 1, strings.Count(m, `"Override/Pkg/Y.c";"Pkg/Y.c"`))
	assert.NotContains(t, m, "Pkg/X.c")
	assert.Equal(t, "vendor", read(t, f.fs, "Oem/Override/Pkg/Y.c"))
	assert.False(t, exists(f.fs, "Oem/Org/Pkg/Y.c"))
	assert.False(t, exists(f.fs, "Pkg/Y.c"), "placeholder must be removed")
	assert.False(t, exists(f.fs, "Pkg"), "placeholder directories must be removed")
}

func TestRunSecondaryNotADirectoryWarns(t *testing.T) {
	f := newFixture(t, "Oem/Ibv")

	summary := f.run(t, Options{Range: head})

	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "secondary layer")
}

func TestRunResetRunsWorktreeOps(t *testing.T) {
	f := newFixture(t, "")
	f.vcs.FailOp("clean", errors.New("locked"))

	summary := f.run(t, Options{Range: head, Reset: true, Pure: true})

	assert.Equal(t, []string{"reset c2", "clean", "revert c2"}, f.vcs.Calls())
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "locked")
}

func TestRunRemovesStaleRenameLog(t *testing.T) {
	f := newFixture(t, "")
	write(t, f.fs, "0.fwto/cbup/R75/R75.log", "R80 Pkg/A.c Pkg/B.c\r\n")

	f.run(t, Options{Range: head})

	assert.False(t, exists(f.fs, "0.fwto/cbup/R75/R75.log"))
}

func TestStripDir(t *testing.T) {
	strip := stripDir("Oem/Ibv")

	got, ok := strip("oem/ibv/Pkg/S.c")
	assert.True(t, ok)
	assert.Equal(t, "Pkg/S.c", got)

	_, ok = strip("Oem/IbvOther/S.c")
	assert.False(t, ok)
	_, ok = strip("Oem/Ibv/")
	assert.False(t, ok)
}

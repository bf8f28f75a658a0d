package extension

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvtx-labs/rvtx/internal/catalog"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/gitx"
	"github.com/rvtx-labs/rvtx/internal/gitx/gitxtest"
	"github.com/rvtx-labs/rvtx/internal/store"
)

type fixture struct {
	reg     *Registry
	git     *gitxtest.Fake
	managed string
	catalog string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registry.toml"), store.ReadWrite)
	require.NoError(t, err)

	cat := filepath.Join(t.TempDir(), "extensions.json")
	require.NoError(t, os.WriteFile(cat, []byte(`{"extensions":[
		{"name":"qaTools","type":"ui","url":"https://example.com/qatools.git","description":"model checks"},
		{"name":"geom","type":"lib","url":"https://example.com/geom.git"}
	]}`), 0644))

	g := gitxtest.New()
	g.Seed = func(opts gitx.CloneOptions) error {
		return writeBundle(opts.Dest, "Main.tab/Checks.panel/Audit.pushbutton")
	}
	managed := filepath.Join(t.TempDir(), "extensions")
	reg := NewRegistry(s, g, catalog.NewClient(""), managed, WithDefaultSource(cat))
	return &fixture{reg: reg, git: g, managed: managed, catalog: cat}
}

func writeBundle(root, rel string) error {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ScriptFile), []byte("print('hi')\n"), 0644)
}

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	p := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(p, 0755))
	return p
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		err  bool
	}{
		{"ui", UI, false},
		{"LIB", Library, false},
		{"library", Library, false},
		{"plugin", "", true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestInstallFromCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ext, err := f.reg.Install(ctx, InstallOptions{Name: "qatools"})
	require.NoError(t, err)
	assert.Equal(t, UI, ext.Type)
	assert.Equal(t, filepath.Join(f.managed, "qatools.extension"), ext.Path)
	assert.True(t, ext.Enabled)
	assert.True(t, ext.IsGit)
	assert.Equal(t, "https://example.com/qatools.git", f.git.Repos[ext.Path].Origin)

	_, err = f.reg.Install(ctx, InstallOptions{Name: "QATOOLS", RepoURL: "https://x"})
	assert.ErrorIs(t, err, ErrAlreadyInstalled)

	_, err = f.reg.Install(ctx, InstallOptions{Name: "unknown"})
	assert.ErrorIs(t, err, catalog.ErrNoEntry)
}

func TestInstallCustomDestAddsSearchPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := t.TempDir()

	ext, err := f.reg.Install(ctx, InstallOptions{Name: "mine", Type: Library, RepoURL: "https://example.com/mine.git", Dest: dest})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "mine.lib"), ext.Path)
	assert.Equal(t, []string{f.managed, dest}, f.reg.SearchPaths())
}

func TestInstallCredentialsValidatedFirst(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Install(context.Background(), InstallOptions{Name: "x", RepoURL: "https://example.com/x.git", Username: "me"})
	assert.Equal(t, fault.Validation, fault.KindOf(err))
	assert.ErrorIs(t, err, gitx.ErrCredentialsPair)
	assert.Zero(t, f.git.Count("clone"))
}

func TestInstallCloneFailure(t *testing.T) {
	f := newFixture(t)
	f.git.Fail["clone"] = errors.New("network down")
	_, err := f.reg.Install(context.Background(), InstallOptions{Name: "x", RepoURL: "https://example.com/x.git"})
	assert.Equal(t, fault.Collaborator, fault.KindOf(err))
	_, err = f.reg.Find(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnableDisableUninstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Install(ctx, InstallOptions{Name: "qaTools"})
	require.NoError(t, err)

	require.NoError(t, f.reg.Disable(ctx, "qatools"))
	e, err := f.reg.Find(ctx, "qaTools")
	require.NoError(t, err)
	assert.False(t, e.Enabled)

	require.NoError(t, f.reg.Enable(ctx, "QATOOLS"))
	e, _ = f.reg.Find(ctx, "qaTools")
	assert.True(t, e.Enabled)

	assert.ErrorIs(t, f.reg.Disable(ctx, "ghost"), ErrNotFound)

	require.NoError(t, f.reg.Uninstall(ctx, "qatools"))
	assert.NoDirExists(t, e.Path)
	_, err = f.reg.Find(ctx, "qaTools")
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestInstalledReportsBrokenItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mkdir(t, f.managed, "plain.extension")
	broken := mkdir(t, f.managed, "broken.extension")
	require.NoError(t, os.WriteFile(filepath.Join(broken, MetadataFile), []byte("{"), 0644))
	partial := mkdir(t, f.managed, "partial.lib", ".git")
	mkdir(t, f.managed, "notes")

	exts, errs := f.reg.Installed(ctx)
	require.Len(t, exts, 1)
	assert.Equal(t, "plain", exts[0].Name)
	assert.False(t, exts[0].IsGit)
	require.Len(t, errs, 2)
	assert.Equal(t, filepath.Join(f.managed, "broken.extension"), errs[0].Item)
	assert.Equal(t, filepath.Dir(partial), errs[1].Item)
}

func TestFindHonorsSearchPathOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := t.TempDir()
	mkdir(t, other, "dup.extension")
	mkdir(t, f.managed, "dup.extension")
	require.NoError(t, f.reg.AddSearchPath(other))

	e, err := f.reg.Find(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, f.managed, e.SearchPath)
}

func TestSearchPaths(t *testing.T) {
	f := newFixture(t)
	p := t.TempDir()

	require.NoError(t, f.reg.AddSearchPath(p))
	require.NoError(t, f.reg.AddSearchPath(p))
	assert.Equal(t, []string{f.managed, p}, f.reg.SearchPaths())

	assert.Equal(t, fault.Validation, fault.KindOf(f.reg.AddSearchPath(filepath.Join(p, "missing"))))
	assert.ErrorIs(t, f.reg.ForgetSearchPath(f.managed), ErrManagedPath)
	assert.ErrorIs(t, f.reg.ForgetSearchPath(t.TempDir()), ErrUnknownPath)

	require.NoError(t, f.reg.ForgetSearchPath(p))
	assert.Equal(t, []string{f.managed}, f.reg.SearchPaths())
}

func TestSources(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.AddSource("https://example.com/ext.json"))
	require.NoError(t, f.reg.AddSource(f.catalog))
	assert.Equal(t, []string{"https://example.com/ext.json", f.catalog}, f.reg.Sources())

	assert.Equal(t, fault.Validation, fault.KindOf(f.reg.AddSource(t.TempDir())))
	assert.ErrorIs(t, f.reg.ForgetSource("https://nope"), ErrUnknownSource)
	require.NoError(t, f.reg.ForgetSource("https://example.com/ext.json"))
	assert.Equal(t, []string{f.catalog}, f.reg.Sources())
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	entries, errs, err := f.reg.Search(context.Background(), "CHECK", false)
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, entries, 1)
	assert.Equal(t, "qaTools", entries[0].Name)

	_, _, err = f.reg.Search(context.Background(), "([", false)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func TestOriginOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Install(ctx, InstallOptions{Name: "qaTools"})
	require.NoError(t, err)

	require.NoError(t, f.reg.SetOrigin(ctx, "qatools", "https://fork.example.com/qa.git"))
	o, err := f.reg.Origin(ctx, "qatools")
	require.NoError(t, err)
	assert.Equal(t, "https://fork.example.com/qa.git", o)

	require.NoError(t, f.reg.ResetOrigin(ctx, "qatools"))
	o, _ = f.reg.Origin(ctx, "qatools")
	assert.Equal(t, "https://example.com/qatools.git", o)

	require.NoError(t, f.reg.Update(ctx, "qatools"))
	assert.Equal(t, 1, f.git.Count("pull"))

	mkdir(t, f.managed, "local.extension")
	assert.Equal(t, fault.GitBackendRequired, fault.KindOf(f.reg.Update(ctx, "local")))
	_, err = f.reg.Origin(ctx, "local")
	assert.ErrorIs(t, err, ErrNotGit)

	updated, errs := f.reg.UpdateAll(ctx)
	assert.Equal(t, []string{"qaTools"}, updated)
	assert.Empty(t, errs)
}

func TestCommands(t *testing.T) {
	root := t.TempDir()
	extDir := mkdir(t, root, "tools.extension")
	require.NoError(t, writeBundle(extDir, "Tools.tab/Export.panel/Export Sheets.pushbutton"))
	require.NoError(t, writeBundle(extDir, "Tools.tab/audit.runcommand"))
	mkdir(t, extDir, "Tools.tab/Empty.pushbutton")
	require.NoError(t, writeBundle(extDir, ".git/hooks/x.pushbutton"))
	require.NoError(t, os.WriteFile(filepath.Join(extDir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0644))
	libDir := mkdir(t, root, "shared.lib")
	require.NoError(t, writeBundle(libDir, "hidden.pushbutton"))

	exts, errs := InDirectory(root)
	require.Empty(t, errs)
	require.Len(t, exts, 2)

	var tools, shared *Extension
	for _, e := range exts {
		switch e.Name {
		case "tools":
			tools = e
		case "shared":
			shared = e
		}
	}
	require.NotNil(t, tools)
	require.NotNil(t, shared)

	cmds, err := tools.Provider().Commands()
	require.NoError(t, err)
	var names []string
	for _, c := range cmds {
		names = append(names, c.Name)
		assert.Equal(t, "tools", c.Extension)
	}
	assert.Equal(t, []string{"audit", "Export Sheets"}, names)

	c, err := tools.Provider().Command("export sheets")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(extDir, "Tools.tab", "Export.panel", "Export Sheets.pushbutton", ScriptFile), c.Script)

	_, err = tools.Provider().Command("missing")
	assert.ErrorIs(t, err, ErrCommandNotFound)

	libCmds, err := shared.Provider().Commands()
	require.NoError(t, err)
	assert.Empty(t, libCmds)
	_, err = shared.Provider().Command("hidden")
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

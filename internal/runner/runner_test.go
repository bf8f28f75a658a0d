package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/model/modeltest"
)

type fakeAttachments map[int]*attach.Resolved

func (f fakeAttachments) GetAttached(_ context.Context, year int) (*attach.Resolved, error) {
	if r, ok := f[year]; ok {
		return r, nil
	}
	return nil, fault.Wrap(fault.NotFound, attach.ErrNotAttached, "%d", year)
}

type fakeInstalls []host.Product

func (f fakeInstalls) Latest(context.Context) (*host.Product, error) {
	if len(f) == 0 {
		return nil, fault.Wrap(fault.NotFound, host.ErrNotInstalled, "no host")
	}
	return &f[0], nil
}

func (f fakeInstalls) InstalledYear(_ context.Context, year int) (*host.Product, error) {
	for i := range f {
		if f[i].ProductYear == year {
			return &f[i], nil
		}
	}
	return nil, fault.Wrap(fault.NotFound, host.ErrNotInstalled, "%d", year)
}

type fakeExtensions []*extension.Extension

func (f fakeExtensions) Installed(context.Context) ([]*extension.Extension, []fault.ItemError) {
	return f, nil
}

// fakeLauncher writes a log line where the manifest says the host would.
type fakeLauncher struct {
	specs []LaunchSpec
	err   error
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) error {
	l.specs = append(l.specs, spec)
	m, err := ReadManifest(spec.ManifestFile)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.LogFile, []byte("ran "+filepath.Base(m.Script)+"\n"), 0644); err != nil {
		return err
	}
	return l.err
}

type fixture struct {
	runner   *Runner
	launcher *fakeLauncher
	attached fakeAttachments
	runsDir  string
	clone    *clone.Clone
	userExts string
	installs fakeInstalls
}

// writeBundle lays out <root>/<ext>.extension/Tab.tab/Panel.panel/<cmd>.pushbutton/script.py.
func writeBundle(t *testing.T, root, ext, cmd string) string {
	t.Helper()
	dir := filepath.Join(root, ext+".extension", "Tab.tab", "Panel.panel", cmd+".pushbutton")
	require.NoError(t, os.MkdirAll(dir, 0755))
	script := filepath.Join(dir, extension.ScriptFile)
	require.NoError(t, os.WriteFile(script, []byte("print('hi')\n"), 0644))
	return script
}

func newFixture(t *testing.T, years ...int) *fixture {
	t.Helper()
	f := &fixture{
		launcher: &fakeLauncher{},
		attached: fakeAttachments{},
		runsDir:  filepath.Join(t.TempDir(), "runs"),
		clone:    &clone.Clone{Name: "main", Path: t.TempDir()},
		userExts: t.TempDir(),
	}
	for _, y := range years {
		p, ok := host.ByYear(y)
		require.True(t, ok)
		prod := *p
		prod.InstallPath = filepath.Join("C:", "Program Files", "Autodesk", prod.Name)
		f.installs = append(f.installs, prod)
		f.attached[y] = &attach.Resolved{
			Attachment: attach.Attachment{HostYear: y, Clone: "main", Engine: "ipy2712"},
			CloneRef:   f.clone,
			EngineRef:  clone.Engine{ID: "ipy2712", Kind: "ironpython", Version: "2.7.12"},
		}
	}
	f.build(t, nil)
	return f
}

func (f *fixture) build(t *testing.T, installed fakeExtensions) {
	t.Helper()
	r, err := New(Config{
		Attachments:  f.attached,
		Extensions:   installed,
		Installs:     f.installs,
		Launcher:     f.launcher,
		RunsDir:      f.runsDir,
		AppVersion:   "1.2.0",
		LoggingLevel: 2,
		NewID:        func() string { return "exec-1" },
	})
	require.NoError(t, err)
	f.runner = r
}

func writeModel(t *testing.T, year int) string {
	t.Helper()
	p, ok := host.ByYear(year)
	require.True(t, ok)
	path := filepath.Join(t.TempDir(), "model.rvt")
	require.NoError(t, modeltest.WriteModel(path, modeltest.Project(p.BuildNumber+"("+p.BuildTarget+")", strconv.Itoa(year)), ""))
	return path
}

func runDirEmpty(t *testing.T, dir string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true
	}
	require.NoError(t, err)
	return len(entries) == 0
}

func TestRunWritesEnvironment(t *testing.T) {
	f := newFixture(t, 2021, 2020, 2019)
	script := writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")
	models := []string{writeModel(t, 2019), writeModel(t, 2021), writeModel(t, 2020)}
	list := filepath.Join(t.TempDir(), "models.txt")
	require.NoError(t, os.WriteFile(list, []byte(strings.Join(models, "\n")+"\n\n"), 0644))

	env, err := f.runner.Run(context.Background(), Request{Command: "audit", Target: list, TargetIsList: true})
	require.NoError(t, err)

	assert.Equal(t, 2021, env.Product.ProductYear)
	assert.Equal(t, script, env.Script)
	assert.Equal(t, models, env.ModelPaths)
	assert.Equal(t, filepath.Join(f.runsDir, "exec-1"), env.WorkingDirectory)
	assert.Equal(t, "ran script.py\n", env.LogContents)
	assert.False(t, env.Purged)
	assert.FileExists(t, env.JournalFile)

	require.Len(t, f.launcher.specs, 1)
	assert.Equal(t, env.Product.InstallPath, f.launcher.specs[0].Product.InstallPath)

	m, err := ReadManifest(env.ManifestFile)
	require.NoError(t, err)
	assert.Equal(t, 2021, m.HostYear)
	assert.Equal(t, "main", m.Clone.Name)
	assert.Equal(t, "ipy2712", m.Engine.ID)
	assert.Equal(t, "exec-1", m.Runtime[branding.EnvVar(KeySessionUUID)])
	assert.Equal(t, "1.2.0", m.Runtime[branding.EnvVar(KeyVersion)])
	assert.Equal(t, "2", m.Runtime[branding.EnvVar(KeyLoggingLevel)])
	assert.Equal(t, env.Product.Version, m.Runtime[branding.EnvVar(KeyAppVersion)])

	journal, err := os.ReadFile(env.JournalFile)
	require.NoError(t, err)
	assert.Contains(t, string(journal), env.ManifestFile)
}

func TestRunExplicitYear(t *testing.T) {
	f := newFixture(t, 2021, 2020)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")
	model := writeModel(t, 2020)

	env, err := f.runner.Run(context.Background(), Request{Command: "Audit", Target: model, HostYear: 2021})
	require.NoError(t, err)
	assert.Equal(t, 2021, env.Product.ProductYear)
}

func TestRunRejectsBeforeSideEffects(t *testing.T) {
	f := newFixture(t, 2020)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")
	tooNew := writeModel(t, 2021)
	notModel := filepath.Join(t.TempDir(), "notes.rvt")
	require.NoError(t, os.WriteFile(notModel, []byte("plain text"), 0644))

	tests := []struct {
		name string
		req  Request
		kind fault.Kind
		want error
	}{
		{"empty command", Request{Command: " "}, fault.Validation, ErrEmptyCommand},
		{"missing model", Request{Command: "Audit", Target: filepath.Join(t.TempDir(), "gone.rvt")}, fault.Validation, ErrMissingModel},
		{"model too new", Request{Command: "Audit", Target: tooNew, HostYear: 2020}, fault.Validation, ErrModelTooNew},
		{"undetectable model", Request{Command: "Audit", Target: notModel, HostYear: 2020}, fault.Validation, nil},
		{"unsupported year", Request{Command: "Audit", HostYear: 1999}, fault.Validation, nil},
		{"not attached", Request{Command: "Audit", HostYear: 2019}, fault.NotFound, attach.ErrNotAttached},
		{"unknown command", Request{Command: "Nope", HostYear: 2020}, fault.NotFound, extension.ErrCommandNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := f.runner.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, env)
			assert.Equal(t, tt.kind, fault.KindOf(err))
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "err = %v", err)
			}
		})
	}
	assert.Empty(t, f.launcher.specs)
	assert.True(t, runDirEmpty(t, f.runsDir))
}

func TestRunFallsBackToLatestInstalled(t *testing.T) {
	f := newFixture(t, 2021, 2019)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")

	env, err := f.runner.Run(context.Background(), Request{Command: "Audit"})
	require.NoError(t, err)
	assert.Equal(t, 2021, env.Product.ProductYear)
	assert.Empty(t, env.ModelPaths)
}

func TestRunWithoutAnyHostIsAmbiguous(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Run(context.Background(), Request{Command: "Audit"})
	assert.Equal(t, fault.Ambiguous, fault.KindOf(err))
	assert.ErrorIs(t, err, ErrNoHostYear)
}

type brokenInstalls struct{ err error }

func (b brokenInstalls) Latest(context.Context) (*host.Product, error) { return nil, b.err }

func (b brokenInstalls) InstalledYear(context.Context, int) (*host.Product, error) {
	return nil, b.err
}

func TestRunHostListingFailureIsCollaborator(t *testing.T) {
	f := newFixture(t)
	broken := errors.New("registry unreadable")
	r, err := New(Config{Attachments: f.attached, Installs: brokenInstalls{broken}, Launcher: f.launcher, RunsDir: f.runsDir})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), Request{Command: "Audit"})
	assert.Equal(t, fault.Collaborator, fault.KindOf(err))
	assert.ErrorIs(t, err, broken)
	assert.NotErrorIs(t, err, ErrNoHostYear)
	assert.Empty(t, f.launcher.specs)
}

func TestCommandPrecedence(t *testing.T) {
	f := newFixture(t, 2020)
	fromClone := writeBundle(t, clone.ExtensionsDir(f.clone), "Core", "Audit")
	writeBundle(t, f.userExts, "Mine", "Audit")
	fromUser := writeBundle(t, f.userExts, "Mine", "Export")
	writeBundle(t, f.userExts, "Off", "Hidden")

	installed, errs := extension.InDirectory(f.userExts)
	require.Empty(t, errs)
	for _, e := range installed {
		if e.Name == "Off" {
			e.Enabled = false
		}
	}
	f.build(t, installed)

	env, err := f.runner.Run(context.Background(), Request{Command: "Audit", HostYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, fromClone, env.Script)

	env, err = f.runner.Run(context.Background(), Request{Command: "export", HostYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, fromUser, env.Script)

	_, err = f.runner.Run(context.Background(), Request{Command: "Hidden", HostYear: 2020})
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestCommandSkipsUnreadableAndLibraryExtensions(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs POSIX permissions enforced")
	}
	f := newFixture(t, 2020)

	lib := filepath.Join(f.userExts, "Alpha.lib", "Audit.pushbutton")
	require.NoError(t, os.MkdirAll(lib, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(lib, extension.ScriptFile), []byte("pass\n"), 0644))

	writeBundle(t, f.userExts, "Broken", "Audit")
	locked := filepath.Join(f.userExts, "Broken.extension", "Tab.tab")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	want := writeBundle(t, f.userExts, "Mine", "Audit")

	installed, errs := extension.InDirectory(f.userExts)
	require.Empty(t, errs)
	require.Len(t, installed, 3)
	assert.Equal(t, extension.Library, installed[0].Type)
	_, err := installed[1].Provider().Commands()
	require.Error(t, err, "locked extension fails to list")
	f.build(t, installed)

	env, err := f.runner.Run(context.Background(), Request{Command: "Audit", HostYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, want, env.Script)
}

func TestRunScriptPath(t *testing.T) {
	f := newFixture(t, 2020)
	script := filepath.Join(t.TempDir(), "job.py")
	require.NoError(t, os.WriteFile(script, []byte("pass\n"), 0644))

	env, err := f.runner.Run(context.Background(), Request{Command: script, HostYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, script, env.Script)
}

func TestRunPurgeAndImport(t *testing.T) {
	f := newFixture(t, 2020)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")
	imports := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(imports, "params.json"), []byte("{}"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(imports, ".git"), 0755))

	// Keep the imported tree visible to the launcher before the purge.
	var seen []string
	launcher := &inspectingLauncher{fakeLauncher: f.launcher, seen: &seen}
	r, err := New(Config{Attachments: f.attached, Installs: f.installs, Launcher: launcher, RunsDir: f.runsDir})
	require.NoError(t, err)

	env, err := r.Run(context.Background(), Request{Command: "Audit", HostYear: 2020, ImportPath: imports, Purge: true})
	require.NoError(t, err)
	assert.True(t, env.Purged)
	assert.Equal(t, "ran script.py\n", env.LogContents)
	assert.NoDirExists(t, env.WorkingDirectory)
	assert.Contains(t, seen, "params.json")
	assert.NotContains(t, seen, ".git")
}

type inspectingLauncher struct {
	*fakeLauncher
	seen *[]string
}

func (l *inspectingLauncher) Launch(ctx context.Context, spec LaunchSpec) error {
	entries, err := os.ReadDir(spec.WorkingDirectory)
	if err != nil {
		return err
	}
	for _, e := range entries {
		*l.seen = append(*l.seen, e.Name())
	}
	return l.fakeLauncher.Launch(ctx, spec)
}

func TestLaunchFailureKeepsEnvironment(t *testing.T) {
	f := newFixture(t, 2020)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")
	f.launcher.err = errors.New("host crashed")

	env, err := f.runner.Run(context.Background(), Request{Command: "Audit", HostYear: 2020})
	require.Error(t, err)
	assert.Equal(t, fault.Collaborator, fault.KindOf(err))
	require.NotNil(t, env)
	assert.Equal(t, "exec-1", env.ExecutionID)
	assert.EqualError(t, env.LaunchErr, "host crashed")
	assert.DirExists(t, env.WorkingDirectory)
}

func TestAvailableCommands(t *testing.T) {
	f := newFixture(t, 2020)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Core", "Audit")
	writeBundle(t, clone.ExtensionsDir(f.clone), "Core", "Purge")
	writeBundle(t, f.userExts, "Mine", "Export")
	installed, _ := extension.InDirectory(f.userExts)
	f.build(t, installed)

	groups, errs := f.runner.AvailableCommands(context.Background(), []*clone.Clone{f.clone})
	assert.Empty(t, errs)
	require.Len(t, groups, 2)
	assert.Equal(t, "clone main", groups[0].Source)
	assert.Len(t, groups[0].Commands, 2)
	assert.Equal(t, "installed", groups[1].Source)
	assert.Equal(t, "Export", groups[1].Commands[0].Name)
}

func TestCustomJournalTemplate(t *testing.T) {
	f := newFixture(t, 2020)
	writeBundle(t, clone.ExtensionsDir(f.clone), "Tools", "Audit")
	tmpl := filepath.Join(t.TempDir(), "journal.tmpl")
	require.NoError(t, os.WriteFile(tmpl, []byte("manifest={{.ManifestFile}} dialogs={{.AllowDialogs}}\n"), 0644))

	r, err := New(Config{Attachments: f.attached, Installs: f.installs, Launcher: f.launcher, RunsDir: f.runsDir, JournalTemplate: tmpl})
	require.NoError(t, err)
	env, err := r.Run(context.Background(), Request{Command: "Audit", HostYear: 2020, AllowDialogs: true})
	require.NoError(t, err)

	data, err := os.ReadFile(env.JournalFile)
	require.NoError(t, err)
	assert.Equal(t, "manifest="+env.ManifestFile+" dialogs=true\n", string(data))

	_, err = New(Config{JournalTemplate: filepath.Join(t.TempDir(), "missing.tmpl")})
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

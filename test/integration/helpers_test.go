//go:build integration

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/catalog"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/gitx"
	"github.com/rvtx-labs/rvtx/internal/gitx/gitxtest"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/runner"
	"github.com/rvtx-labs/rvtx/internal/store"
)

const (
	frameworkURL = "https://example.com/framework.git"
	qaToolsURL   = "https://example.com/qatools.git"
)

// testEnv wires real registries over isolated directories. Git is faked;
// everything else touches the filesystem.
type testEnv struct {
	Root       string
	ClonesDir  string
	Managed    string
	RunsDir    string
	InstallDir string

	Git        *gitxtest.Fake
	Clones     *clone.Registry
	Extensions *extension.Registry
	Attach     *attach.Resolver
	Hosts      *host.Inventory
	Launcher   *recordingLauncher
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	env := &testEnv{
		Root:       root,
		ClonesDir:  filepath.Join(root, "clones"),
		Managed:    filepath.Join(root, "extensions"),
		RunsDir:    filepath.Join(root, "runs"),
		InstallDir: filepath.Join(root, "Autodesk"),
	}

	user, err := store.Open(filepath.Join(root, "user", "registry.toml"), store.ReadWrite)
	if err != nil {
		t.Fatalf("opening user registry: %v", err)
	}
	machine, err := store.Open(filepath.Join(root, "machine", "registry.toml"), store.ReadWrite)
	if err != nil {
		t.Fatalf("opening machine registry: %v", err)
	}

	catalogFile := filepath.Join(root, "extensions.json")
	writeFile(t, catalogFile, `{"extensions":[
  {"name":"qaTools","type":"ui","url":"`+qaToolsURL+`","description":"model checks"}
]}`)

	env.Git = gitxtest.New()
	env.Git.Seed = seedRepo
	env.Clones = clone.NewRegistry(user, env.Git)
	env.Extensions = extension.NewRegistry(user, env.Git, catalog.NewClient(""), env.Managed,
		extension.WithDefaultSource(catalogFile))
	env.Attach = attach.NewResolver(user, machine, env.Clones)
	env.Hosts = host.NewInventory([]string{env.InstallDir})
	env.Launcher = &recordingLauncher{}
	return env
}

// seedRepo lays out the content each fake remote serves.
func seedRepo(opts gitx.CloneOptions) error {
	switch opts.URL {
	case frameworkURL:
		return writeFramework(opts.Dest)
	case qaToolsURL:
		return writeBundle(opts.Dest, "QA.tab/Checks.panel/Audit.pushbutton")
	}
	return nil
}

func writeFramework(dir string) error {
	files := map[string]string{
		clone.LayoutFile: "version: 4.8.0\ndeployments:\n  - name: core\n    paths: [bin, extensions]\n",
		filepath.Join("bin", "engines", "ipy2712", clone.EngineFile):  "kind: ironpython\nversion: \"2.7.12\"\n",
		filepath.Join("bin", "engines", "cpy3123", clone.EngineFile):  "kind: cpython\nversion: \"3.12.3\"\n",
		filepath.Join("extensions", "Core.extension", "Info.tab", "About.pushbutton", extension.ScriptFile): "pass\n",
	}
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

func writeBundle(root, rel string) error {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, extension.ScriptFile), []byte("print('hi')\n"), 0644)
}

// installHost creates a fake host install for year.
func installHost(t *testing.T, env *testEnv, year string) {
	t.Helper()
	writeFile(t, filepath.Join(env.InstallDir, "Revit "+year, host.Executable), "")
}

func (env *testEnv) runner(t *testing.T) *runner.Runner {
	t.Helper()
	r, err := runner.New(runner.Config{
		Attachments: env.Attach,
		Extensions:  env.Extensions,
		Installs:    env.Hosts,
		Launcher:    env.Launcher,
		RunsDir:     env.RunsDir,
		AppVersion:  "1.0.0-test",
	})
	if err != nil {
		t.Fatalf("creating runner: %v", err)
	}
	return r
}

// recordingLauncher stands in for the host process. It reads the manifest
// the way the in-host runtime would and writes a log.
type recordingLauncher struct {
	Specs     []runner.LaunchSpec
	Manifests []*runner.Manifest
}

func (l *recordingLauncher) Launch(_ context.Context, spec runner.LaunchSpec) error {
	l.Specs = append(l.Specs, spec)
	m, err := runner.ReadManifest(spec.ManifestFile)
	if err != nil {
		return err
	}
	l.Manifests = append(l.Manifests, m)
	line := "executed " + filepath.Base(filepath.Dir(m.Script)) + " on " + strings.Join(m.Models, ",") + "\n"
	return os.WriteFile(m.LogFile, []byte(line), 0644)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("expected file to exist: %s", path)
	}
}

func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to not exist: %s", path)
	}
}

func assertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if !strings.Contains(string(data), substr) {
		t.Errorf("file %s does not contain %q", path, substr)
	}
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDirEnvOverride(t *testing.T) {
	t.Setenv("RVTX_HOME", "/tmp/rvtx-home")
	if got := Dir(); got != "/tmp/rvtx-home" {
		t.Errorf("Dir() = %q, want %q", got, "/tmp/rvtx-home")
	}
	if got := FilePath(); got != filepath.Join("/tmp/rvtx-home", "config.yaml") {
		t.Errorf("FilePath() = %q", got)
	}
}

func TestSetAndReload(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("RVTX_HOME", t.TempDir())

	Load()
	if err := Set(KeyGitBinary, "/opt/git/bin/git"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	viper.Reset()
	Load()
	if got := Get(KeyGitBinary); got != "/opt/git/bin/git" {
		t.Errorf("Get(%q) = %q", KeyGitBinary, got)
	}
}

func TestCurrentDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("RVTX_HOME", t.TempDir())

	Load()
	s, err := Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if s.Git.Binary != "git" {
		t.Errorf("Git.Binary = %q, want git", s.Git.Binary)
	}
	if s.Catalog.TTL != 24*time.Hour {
		t.Errorf("Catalog.TTL = %v, want 24h", s.Catalog.TTL)
	}
	if len(s.Host.InstallRoots) == 0 {
		t.Error("Host.InstallRoots has no default")
	}
	if s.Core.AdminMode {
		t.Error("AdminMode defaults to true")
	}
}

func TestEnvOverridesNestedKey(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("RVTX_HOME", t.TempDir())
	t.Setenv("RVTX_HOST_INSTALL_ROOTS", "/opt/a,/opt/b")

	Load()
	s, err := Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(s.Host.InstallRoots) != 2 || s.Host.InstallRoots[1] != "/opt/b" {
		t.Errorf("Host.InstallRoots = %v", s.Host.InstallRoots)
	}
}

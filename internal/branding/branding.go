// Package branding provides compile-time identity values for the CLI.
//
// Forkers edit branding.yaml in this package; Go's //go:embed bakes it into
// the binary.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName          string `yaml:"cli_name"`
	DisplayName      string `yaml:"display_name"`
	Description      string `yaml:"description"`
	HomeDir          string `yaml:"home_dir"`
	EnvPrefix        string `yaml:"env_prefix"`
	GoModule         string `yaml:"go_module"`
	GitHubRepo       string `yaml:"github_repo"`
	FrameworkRepoURL string `yaml:"framework_repo_url"`
	DefaultCatalog   string `yaml:"default_catalog"`
}

func load() {
	once.Do(func() {
		// Set hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:          "rvtx",
			DisplayName:      "RVTX",
			Description:      "Clone, extension and run manager for the Revit plugin framework",
			HomeDir:          ".rvtx",
			EnvPrefix:        "RVTX",
			GoModule:         "github.com/rvtx-labs/rvtx",
			GitHubRepo:       "rvtx-labs/rvtx-framework",
			FrameworkRepoURL: "https://github.com/rvtx-labs/rvtx-framework.git",
			DefaultCatalog:   "https://raw.githubusercontent.com/rvtx-labs/rvtx-framework/master/extensions/extensions.json",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "rvtx").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".rvtx").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "RVTX").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GoModule returns the Go module path. Not consumed at runtime.
func GoModule() string { load(); return defaults.GoModule }

// GitHubRepo returns the "owner/repo" string that publishes framework releases.
func GitHubRepo() string { load(); return defaults.GitHubRepo }

// FrameworkRepoURL returns the default git URL new clones are made from and
// that origin resets fall back to.
func FrameworkRepoURL() string { load(); return defaults.FrameworkRepoURL }

// DefaultCatalog returns the extension catalog that is always searched.
func DefaultCatalog() string { load(); return defaults.DefaultCatalog }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("HOME") → "RVTX_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}

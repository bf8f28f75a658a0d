package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rvtx-labs/rvtx/internal/branding"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Setting keys.
const (
	KeyGitBinary       = "git.binary"
	KeyInstallRoots    = "host.install_roots"
	KeyRunsDir         = "runner.runs_dir"
	KeyJournalTemplate = "runner.journal_template"
	KeyDefaultCatalog  = "catalog.default_source"
	KeyCatalogTTL      = "catalog.ttl"
	KeyAdminMode       = "core.admin_mode"
)

// Settings is the typed view of the user settings file.
type Settings struct {
	Git struct {
		Binary string `mapstructure:"binary"`
	} `mapstructure:"git"`
	Host struct {
		InstallRoots []string `mapstructure:"install_roots"`
	} `mapstructure:"host"`
	Runner struct {
		RunsDir         string `mapstructure:"runs_dir"`
		JournalTemplate string `mapstructure:"journal_template"`
	} `mapstructure:"runner"`
	Catalog struct {
		DefaultSource string        `mapstructure:"default_source"`
		TTL           time.Duration `mapstructure:"ttl"`
	} `mapstructure:"catalog"`
	Core struct {
		AdminMode bool `mapstructure:"admin_mode"`
	} `mapstructure:"core"`
}

// Dir returns the path to the config directory (~/.rvtx/).
// The <PREFIX>_HOME env var overrides it.
func Dir() string {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.rvtx/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault(KeyGitBinary, "git")
	viper.SetDefault(KeyInstallRoots, defaultInstallRoots())
	viper.SetDefault(KeyRunsDir, filepath.Join(os.TempDir(), branding.CLIName()+"-runs"))
	viper.SetDefault(KeyDefaultCatalog, branding.DefaultCatalog())
	viper.SetDefault(KeyCatalogTTL, 24*time.Hour)
	viper.SetDefault(KeyAdminMode, false)
}

func defaultInstallRoots() []string {
	if pf := os.Getenv("ProgramFiles"); pf != "" {
		return []string{filepath.Join(pf, "Autodesk")}
	}
	return []string{filepath.Join("C:\\", "Program Files", "Autodesk")}
}

// Load initializes Viper to read from the config file and environment.
func Load() {
	setDefaults()
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Current decodes the loaded settings.
func Current() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &s, nil
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

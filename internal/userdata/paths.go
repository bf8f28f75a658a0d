package userdata

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rvtx-labs/rvtx/internal/branding"
)

// Directory and file name constants for the on-disk layout.
const (
	RegistryFile   = "registry.toml"
	ClonesDir      = "clones"
	ExtensionsDir  = "extensions"
	CacheDir       = "cache"
	CatalogsDir    = "catalogs"
	DefaultCloneID = "master"
)

// Permission constants.
const (
	DirPermSecure  os.FileMode = 0700
	FilePermSecure os.FileMode = 0600
	DirPermNormal  os.FileMode = 0755
)

// GetRoot returns the per-user root directory.
// It checks the RVTX_HOME environment variable first,
// then falls back to ~/.rvtx.
func GetRoot() (string, error) {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, branding.HomeDir()), nil
}

// GetAllUsersRoot returns the machine-wide directory that holds the
// all-users registry. RVTX_ALLUSERS overrides it.
func GetAllUsersRoot() (string, error) {
	if v := os.Getenv(branding.EnvVar("ALLUSERS")); v != "" {
		return v, nil
	}
	if runtime.GOOS == "windows" {
		pd := os.Getenv("ProgramData")
		if pd == "" {
			return "", fmt.Errorf("ProgramData is not set")
		}
		return filepath.Join(pd, branding.CLIName()), nil
	}
	return filepath.Join("/etc", branding.CLIName()), nil
}

// GetRegistryPath returns the per-user registry file.
func GetRegistryPath() (string, error) {
	root, err := GetRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, RegistryFile), nil
}

// GetAllUsersRegistryPath returns the machine-wide registry file.
func GetAllUsersRegistryPath() (string, error) {
	root, err := GetAllUsersRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, RegistryFile), nil
}

// GetClonesRoot returns the default parent directory for new clones.
// Checks RVTX_CLONES first, then falls back to ~/.rvtx/clones/.
func GetClonesRoot() (string, error) {
	if v := os.Getenv(branding.EnvVar("CLONES")); v != "" {
		return v, nil
	}
	root, err := GetRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ClonesDir), nil
}

// GetExtensionsRoot returns the managed extensions directory, always the
// first extension search path.
// Checks RVTX_EXTENSIONS first, then falls back to ~/.rvtx/extensions/.
func GetExtensionsRoot() (string, error) {
	if v := os.Getenv(branding.EnvVar("EXTENSIONS")); v != "" {
		return v, nil
	}
	root, err := GetRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ExtensionsDir), nil
}

// GetCacheRoot returns ~/.rvtx/cache.
func GetCacheRoot() (string, error) {
	root, err := GetRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, CacheDir), nil
}

// GetCatalogCacheDir returns the directory holding cached remote catalogs.
func GetCatalogCacheDir() (string, error) {
	root, err := GetCacheRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, CatalogsDir), nil
}

// GetHostCacheDir returns the per host year cache directory.
func GetHostCacheDir(year int) (string, error) {
	root, err := GetCacheRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, strconv.Itoa(year)), nil
}

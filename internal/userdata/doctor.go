package userdata

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/store"
)

// CheckUserdata validates the per-user directory layout and the registry
// file. When fix is true, it creates missing directories.
func CheckUserdata(w io.Writer, gitBinary string, fix bool) error {
	root, err := GetRoot()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Userdata check:")

	if _, statErr := os.Stat(root); os.IsNotExist(statErr) {
		fmt.Fprintf(w, "  [MISS] %s does not exist\n", root)
		if fix {
			fmt.Fprintln(w, "  [FIX ] Creating directory layout...")
			if initErr := Init(w); initErr != nil {
				return fmt.Errorf("auto-fix init: %w", initErr)
			}
		} else {
			fmt.Fprintf(w, "         Run '%s doctor --fix' to create\n", branding.CLIName())
		}
		return nil
	}
	fmt.Fprintf(w, "  [ OK ] %s exists\n", root)

	for _, get := range []func() (string, error){GetClonesRoot, GetExtensionsRoot, GetCacheRoot} {
		dir, err := get()
		if err != nil {
			return err
		}
		checkDirExists(w, dir, fix)
	}

	if regPath, err := GetRegistryPath(); err == nil {
		checkRegistry(w, regPath)
	}

	if _, err := exec.LookPath(gitBinary); err != nil {
		fmt.Fprintf(w, "  [WARN] %s not found in PATH (clone and extension git operations will fail)\n", gitBinary)
	} else {
		fmt.Fprintf(w, "  [ OK ] %s found in PATH\n", gitBinary)
	}
	return nil
}

func checkRegistry(w io.Writer, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(w, "  [MISS] %s does not exist (created on first change)\n", path)
		return
	}
	if _, err := store.Open(path, store.ReadOnly); err != nil {
		fmt.Fprintf(w, "  [FAIL] %v\n", err)
		return
	}
	fmt.Fprintf(w, "  [ OK ] %s parses\n", path)
}

func checkDirExists(w io.Writer, path string, fix bool) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Fprintf(w, "  [MISS] %s does not exist\n", path)
		if fix {
			if mkErr := os.MkdirAll(path, DirPermNormal); mkErr != nil {
				fmt.Fprintf(w, "  [FAIL] Could not create %s: %v\n", path, mkErr)
				return
			}
			fmt.Fprintf(w, "  [FIX ] Created %s\n", path)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", path, err)
		return
	}
	if !info.IsDir() {
		fmt.Fprintf(w, "  [WARN] %s exists but is not a directory\n", path)
		return
	}
	fmt.Fprintf(w, "  [ OK ] %s exists\n", path)
}

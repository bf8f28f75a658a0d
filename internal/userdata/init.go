package userdata

import (
	"fmt"
	"io"
	"os"

	"github.com/rvtx-labs/rvtx/internal/platform"
)

// Init creates the per-user directory structure. It prints progress
// messages to w. Existing items are skipped with a message.
func Init(w io.Writer) error {
	root, err := GetRoot()
	if err != nil {
		return err
	}
	if err := ensureDir(w, root, DirPermNormal); err != nil {
		return err
	}

	for _, get := range []func() (string, error){GetClonesRoot, GetExtensionsRoot, GetCacheRoot, GetCatalogCacheDir} {
		dir, err := get()
		if err != nil {
			return err
		}
		if err := ensureDir(w, dir, DirPermNormal); err != nil {
			return err
		}
	}
	return nil
}

// ensureDir creates a directory if it doesn't exist.
func ensureDir(w io.Writer, path string, perm os.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			fmt.Fprintf(w, "  [SKIP] %s already exists\n", path)
			return nil
		}
		return fmt.Errorf("%s exists but is not a directory", path)
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	// MkdirAll may not apply exact perms if parent dirs needed creation.
	if err := platform.Chmod(path, perm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	fmt.Fprintf(w, "  [ OK ] Created %s\n", path)
	return nil
}

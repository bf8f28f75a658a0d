package userdata

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ClearHostCache removes the cache directory of one host year. A missing
// directory is not an error.
func ClearHostCache(year int) error {
	dir, err := GetHostCacheDir(year)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing cache for %d: %w", year, err)
	}
	return nil
}

// ClearAllHostCaches removes every per-year cache directory and returns the
// years that were cleared. Catalog caches are left alone.
func ClearAllHostCaches() ([]int, error) {
	root, err := GetCacheRoot()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var cleared []int
	for _, e := range entries {
		year, convErr := strconv.Atoi(e.Name())
		if !e.IsDir() || convErr != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return cleared, fmt.Errorf("clearing cache for %d: %w", year, err)
		}
		cleared = append(cleared, year)
	}
	return cleared, nil
}

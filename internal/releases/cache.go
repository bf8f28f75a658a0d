package releases

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	cacheFileName = "releases.json"
	// DefaultCacheMaxAge is the default maximum age for the release cache.
	DefaultCacheMaxAge = 6 * time.Hour
)

// Cache holds the last fetched release list.
type Cache struct {
	Repo      string    `json:"repo"`
	CheckedAt time.Time `json:"checked_at"`
	Releases  []Release `json:"releases"`
}

// LoadCache reads the release cache from dir.
// Returns nil, nil if dir is empty or the cache file does not exist.
func LoadCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading releases cache: %w", err)
	}

	var cache Cache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing releases cache: %w", err)
	}
	return &cache, nil
}

// SaveCache writes the release cache to dir.
func SaveCache(dir string, cache *Cache) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling releases cache: %w", err)
	}
	tmp := filepath.Join(dir, cacheFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing releases cache: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, cacheFileName))
}

// ClearCache removes the cached release list.
func ClearCache(dir string) error {
	err := os.Remove(filepath.Join(dir, cacheFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing releases cache: %w", err)
	}
	return nil
}

// IsStale reports whether the cache is older than maxAge at now.
func (c *Cache) IsStale(now time.Time, maxAge time.Duration) bool {
	if c == nil {
		return true
	}
	return now.Sub(c.CheckedAt) > maxAge
}

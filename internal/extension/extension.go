package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/gitx"
)

// MetadataFile is the optional descriptor at an extension's root.
const MetadataFile = "extension.json"

// Type distinguishes UI extensions from libraries.
type Type string

const (
	UI      Type = "ui"
	Library Type = "lib"
)

// ParseType accepts "ui", "lib" or "library".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ui", "extension":
		return UI, nil
	case "lib", "library":
		return Library, nil
	}
	return "", fault.New(fault.Validation, "unknown extension type %q (want ui or lib)", s)
}

// Suffix is the directory suffix for the type.
func (t Type) Suffix() string {
	if t == Library {
		return ".lib"
	}
	return ".extension"
}

// Metadata is the content of extension.json.
type Metadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Version     string `json:"version,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Extension is one installed extension directory.
type Extension struct {
	Name       string   `json:"name"`
	Type       Type     `json:"type"`
	Path       string   `json:"path"`
	SearchPath string   `json:"search_path"`
	Enabled    bool     `json:"enabled"`
	IsGit      bool     `json:"is_git"`
	Meta       Metadata `json:"metadata,omitzero"`
}

// DirName returns the directory name for an extension of type t.
func DirName(name string, t Type) string {
	return name + t.Suffix()
}

func parseDirName(dir string) (string, Type, bool) {
	switch {
	case strings.HasSuffix(dir, ".extension"):
		return strings.TrimSuffix(dir, ".extension"), UI, true
	case strings.HasSuffix(dir, ".lib"):
		return strings.TrimSuffix(dir, ".lib"), Library, true
	}
	return "", "", false
}

// InDirectory scans dir (non-recursively) for extension directories. Entries
// that cannot be read are reported per item. A missing dir yields nothing.
func InDirectory(dir string) ([]*Extension, []fault.ItemError) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, []fault.ItemError{{Item: dir, Err: fmt.Errorf("reading search path: %w", err)}}
	}

	var (
		out  []*Extension
		errs []fault.ItemError
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, typ, ok := parseDirName(e.Name())
		if !ok || name == "" {
			continue
		}
		ext, err := load(filepath.Join(dir, e.Name()), name, typ)
		if err != nil {
			errs = append(errs, fault.ItemError{Item: filepath.Join(dir, e.Name()), Err: err})
			continue
		}
		ext.SearchPath = dir
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, errs
}

func load(path, name string, typ Type) (*Extension, error) {
	ext := &Extension{Name: name, Type: typ, Path: path, Enabled: true}

	gitDir := filepath.Join(path, ".git")
	if info, err := os.Stat(gitDir); err == nil {
		if !info.IsDir() {
			return nil, fault.New(fault.Validation, "unsupported .git file in %s", path)
		}
		if _, err := os.Stat(filepath.Join(gitDir, "HEAD")); err != nil {
			return nil, fault.New(fault.Validation, "incomplete git checkout in %s", path)
		}
		ext.IsGit = gitx.IsRepo(path)
	}

	data, err := os.ReadFile(filepath.Join(path, MetadataFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &ext.Meta); err != nil {
			return nil, fault.Wrap(fault.Validation, err, "parsing %s", MetadataFile)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", MetadataFile, err)
	}
	return ext, nil
}

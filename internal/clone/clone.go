package clone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.yaml.in/yaml/v3"

	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/gitx"
)

const (
	// LayoutFile describes a clone's version and deployments.
	LayoutFile = "clonefile.yaml"
	// EngineFile describes one engine under bin/engines/<id>/.
	EngineFile = "engine.yaml"
	// deploymentMarker records the deployment a clone was materialized with.
	deploymentMarker = "rvtx-deployment"
)

// Clone is a registered installation of the framework.
type Clone struct {
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	Deployment string  `json:"deployment,omitempty"`
	IsGit      bool    `json:"is_git"`
	Git        GitInfo `json:"git,omitzero"`
}

// GitInfo is filled in by Registry.Info for git-backed clones.
type GitInfo struct {
	Origin string `json:"origin,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// Deployment is a named subset of a clone's tree.
type Deployment struct {
	Name  string   `yaml:"name" json:"name"`
	Paths []string `yaml:"paths" json:"paths"`
}

// Engine is a script-engine revision shipped in a clone.
type Engine struct {
	ID      string `yaml:"id" json:"id"`
	Kind    string `yaml:"kind" json:"kind"`
	Version string `yaml:"version" json:"version"`
	Path    string `yaml:"-" json:"path"`

	semver *semver.Version
}

// SemVer returns the parsed engine version.
func (e Engine) SemVer() *semver.Version { return e.semver }

type layout struct {
	Version     string       `yaml:"version"`
	Deployments []Deployment `yaml:"deployments"`
}

// IsLayout reports whether dir looks like a framework deployment: a
// clonefile.yaml, or both bin/ and extensions/ directories.
func IsLayout(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, LayoutFile)); err == nil {
		return true
	}
	return isDir(filepath.Join(dir, "bin")) && isDir(filepath.Join(dir, "extensions"))
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func readLayout(dir string) (*layout, error) {
	data, err := os.ReadFile(filepath.Join(dir, LayoutFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &layout{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", LayoutFile, err)
	}
	var l layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", LayoutFile, err)
	}
	return &l, nil
}

func findDeployment(l *layout, name string) (*Deployment, bool) {
	for i := range l.Deployments {
		if strings.EqualFold(l.Deployments[i].Name, name) {
			return &l.Deployments[i], true
		}
	}
	return nil, false
}

// ExtensionsDir returns where a clone ships its own extensions.
func ExtensionsDir(c *Clone) string {
	return filepath.Join(c.Path, "extensions")
}

// markerPath keeps the marker inside .git for git clones so it never shows
// up as a working tree change.
func markerPath(dir string) string {
	if gitx.IsRepo(dir) {
		return filepath.Join(dir, ".git", deploymentMarker)
	}
	return filepath.Join(dir, "."+deploymentMarker)
}

func readDeploymentMarker(dir string) string {
	data, err := os.ReadFile(markerPath(dir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeDeploymentMarker(dir, deployment string) error {
	if deployment == "" {
		return nil
	}
	if err := os.WriteFile(markerPath(dir), []byte(deployment+"\n"), 0644); err != nil {
		return fmt.Errorf("writing deployment marker: %w", err)
	}
	return nil
}

// scanEngines reads bin/engines/*/engine.yaml, skipping malformed entries.
// Engines come back in ascending version order.
func scanEngines(ctx context.Context, dir string) ([]Engine, error) {
	root := filepath.Join(dir, "bin", "engines")
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading engines directory: %w", err)
	}

	log := ctxlog.FromContext(ctx)
	var engines []Engine
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		engDir := filepath.Join(root, e.Name())
		data, err := os.ReadFile(filepath.Join(engDir, EngineFile))
		if err != nil {
			log.Debug("skipping engine without descriptor", "dir", engDir)
			continue
		}
		var eng Engine
		if err := yaml.Unmarshal(data, &eng); err != nil {
			log.Warn("skipping malformed engine", "dir", engDir, "err", err)
			continue
		}
		v, err := semver.NewVersion(eng.Version)
		if err != nil {
			log.Warn("skipping engine with invalid version", "dir", engDir, "version", eng.Version)
			continue
		}
		if eng.ID == "" {
			eng.ID = e.Name()
		}
		eng.Path = engDir
		eng.semver = v
		engines = append(engines, eng)
	}

	sort.SliceStable(engines, func(i, j int) bool {
		if c := engines[i].semver.Compare(engines[j].semver); c != 0 {
			return c < 0
		}
		return engines[i].ID < engines[j].ID
	})
	return engines, nil
}

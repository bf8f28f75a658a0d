package extension

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/fault"
)

// ScriptFile is the entry script inside a command bundle.
const ScriptFile = "script.py"

var bundleSuffixes = []string{".pushbutton", ".smartbutton", ".runcommand"}

// ErrCommandNotFound is returned when no bundle matches a command name.
var ErrCommandNotFound = errors.New("command not found")

// RunnerCommand is a runnable command bundle.
type RunnerCommand struct {
	Name      string `json:"name"`
	Script    string `json:"script"`
	BundleDir string `json:"bundle"`
	Extension string `json:"extension"`
}

// CommandProvider is implemented by extensions that can supply commands.
type CommandProvider interface {
	Commands() ([]RunnerCommand, error)
	Command(name string) (*RunnerCommand, error)
}

// Provider returns the command capability of e. Libraries provide none.
func (e *Extension) Provider() CommandProvider {
	if e.Type == UI {
		return uiCommands{ext: e}
	}
	return noCommands{}
}

type uiCommands struct {
	ext *Extension
}

func bundleName(dir string) (string, bool) {
	for _, s := range bundleSuffixes {
		if strings.HasSuffix(dir, s) {
			return strings.TrimSuffix(dir, s), true
		}
	}
	return "", false
}

func (u uiCommands) Commands() ([]RunnerCommand, error) {
	var out []RunnerCommand
	err := filepath.WalkDir(u.ext.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		name, ok := bundleName(d.Name())
		if !ok {
			return nil
		}
		script := filepath.Join(path, ScriptFile)
		if _, err := os.Stat(script); err == nil {
			out = append(out, RunnerCommand{Name: name, Script: script, BundleDir: path, Extension: u.ext.Name})
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "scanning commands of %q", u.ext.Name)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (u uiCommands) Command(name string) (*RunnerCommand, error) {
	cmds, err := u.Commands()
	if err != nil {
		return nil, err
	}
	for i := range cmds {
		if strings.EqualFold(cmds[i].Name, name) {
			return &cmds[i], nil
		}
	}
	return nil, fault.Wrap(fault.NotFound, ErrCommandNotFound, "%q in %q", name, u.ext.Name)
}

type noCommands struct{}

func (noCommands) Commands() ([]RunnerCommand, error) { return nil, nil }

func (noCommands) Command(name string) (*RunnerCommand, error) {
	return nil, fault.Wrap(fault.NotFound, ErrCommandNotFound, "%q", name)
}

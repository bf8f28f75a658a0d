package runner

import (
	"context"
	"path/filepath"

	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

// CommandSource is one place commands are looked up, in priority order.
type CommandSource struct {
	Name       string
	Extensions []*extension.Extension
}

// sources returns the clone's own extensions first, then enabled installed
// extensions not already listed.
func (r *Runner) sources(ctx context.Context, c *clone.Clone) []CommandSource {
	log := ctxlog.FromContext(ctx)
	var out []CommandSource
	seen := map[string]bool{}

	if c != nil {
		exts, errs := extension.InDirectory(clone.ExtensionsDir(c))
		for _, e := range errs {
			log.Debug("skipping clone extension", "clone", c.Name, "err", e)
		}
		for _, e := range exts {
			seen[filepath.Clean(e.Path)] = true
		}
		out = append(out, CommandSource{Name: "clone " + c.Name, Extensions: exts})
	}

	if r.cfg.Extensions != nil {
		installed, errs := r.cfg.Extensions.Installed(ctx)
		for _, e := range errs {
			log.Debug("skipping installed extension", "err", e)
		}
		var exts []*extension.Extension
		for _, e := range installed {
			if !e.Enabled || seen[filepath.Clean(e.Path)] {
				continue
			}
			exts = append(exts, e)
		}
		out = append(out, CommandSource{Name: "installed", Extensions: exts})
	}
	return out
}

// CommandGroup lists the commands of one extension.
type CommandGroup struct {
	Source    string                    `json:"source"`
	Extension string                    `json:"extension"`
	Commands  []extension.RunnerCommand `json:"commands"`
}

// AvailableCommands lists runnable commands from every given clone and from
// installed extensions. Extensions that cannot be read are reported as item
// errors and skipped.
func (r *Runner) AvailableCommands(ctx context.Context, clones []*clone.Clone) ([]CommandGroup, []fault.ItemError) {
	var groups []CommandGroup
	var errs []fault.ItemError
	collect := func(src CommandSource) {
		for _, ext := range src.Extensions {
			cmds, err := ext.Provider().Commands()
			if err != nil {
				errs = append(errs, fault.ItemError{Item: ext.Name, Err: err})
				continue
			}
			if len(cmds) == 0 {
				continue
			}
			groups = append(groups, CommandGroup{Source: src.Name, Extension: ext.Name, Commands: cmds})
		}
	}

	for _, c := range clones {
		exts, itemErrs := extension.InDirectory(clone.ExtensionsDir(c))
		errs = append(errs, itemErrs...)
		collect(CommandSource{Name: "clone " + c.Name, Extensions: exts})
	}
	for _, src := range r.sources(ctx, nil) {
		collect(src)
	}
	return groups, errs
}

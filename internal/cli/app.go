package cli

import (
	"context"
	"fmt"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/catalog"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/config"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/gitx"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/runner"
	"github.com/rvtx-labs/rvtx/internal/store"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

// app holds the registries a command works with, opened from the user's
// settings and registry files.
type app struct {
	settings   *config.Settings
	user       *store.Store
	machine    *store.Store
	git        gitx.Workspace
	clones     *clone.Registry
	catalogs   *catalog.Client
	extensions *extension.Registry
	attach     *attach.Resolver
	hosts      *host.Inventory
}

// openApp loads settings and opens both registries for one command.
func openApp(ctx context.Context) (*app, error) {
	settings, err := config.Current()
	if err != nil {
		return nil, err
	}

	mode := store.ReadWrite
	if settings.Core.AdminMode {
		mode = store.ReadOnly
		ctxlog.FromContext(ctx).Debug("admin mode: user registry is read-only")
	}
	userPath, err := userdata.GetRegistryPath()
	if err != nil {
		return nil, fmt.Errorf("resolving registry path: %w", err)
	}
	user, err := store.Open(userPath, mode)
	if err != nil {
		return nil, err
	}
	machinePath, err := userdata.GetAllUsersRegistryPath()
	if err != nil {
		return nil, fmt.Errorf("resolving all-users registry path: %w", err)
	}
	machine, err := store.Open(machinePath, store.ReadWrite)
	if err != nil {
		return nil, err
	}

	catalogDir, err := userdata.GetCatalogCacheDir()
	if err != nil {
		return nil, err
	}
	extRoot, err := userdata.GetExtensionsRoot()
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, user: user, machine: machine}
	a.git = gitx.New(settings.Git.Binary)
	a.clones = clone.NewRegistry(user, a.git)
	a.catalogs = catalog.NewClient(catalogDir, catalog.WithTTL(settings.Catalog.TTL))
	a.extensions = extension.NewRegistry(user, a.git, a.catalogs, extRoot,
		extension.WithDefaultSource(settings.Catalog.DefaultSource))
	a.attach = attach.NewResolver(user, machine, a.clones)
	a.hosts = host.NewInventory(settings.Host.InstallRoots)
	return a, nil
}

func (a *app) runner() (*runner.Runner, error) {
	return runner.New(runner.Config{
		Attachments:     a.attach,
		Extensions:      a.extensions,
		Installs:        a.hosts,
		RunsDir:         a.settings.Runner.RunsDir,
		JournalTemplate: a.settings.Runner.JournalTemplate,
		AppVersion:      buildVersion,
		LoggingLevel:    loggingLevel(),
		FileLogging:     logFile != "",
	})
}

// loggingLevel maps the global log flags onto the in-host logging levels
// (0 quiet, 1 verbose, 2 debug).
func loggingLevel() int {
	switch {
	case logDebug:
		return 2
	case logVerbose:
		return 1
	}
	return 0
}

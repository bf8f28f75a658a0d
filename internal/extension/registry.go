package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/catalog"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/gitx"
	"github.com/rvtx-labs/rvtx/internal/store"
)

// Section is the registry section holding extension settings.
const Section = "extensions"

const (
	keySearchPaths = "searchpaths"
	keySources     = "sources"
	keyState       = "state"

	stateEnabled  = "enabled"
	stateDisabled = "disabled"
)

var (
	ErrNotFound         = errors.New("extension not installed")
	ErrAlreadyInstalled = errors.New("extension already installed")
	ErrNotGit           = errors.New("extension is not git-backed")
	ErrManagedPath      = errors.New("the managed extensions directory cannot be forgotten")
	ErrUnknownPath      = errors.New("search path not registered")
	ErrUnknownSource    = errors.New("catalog source not registered")
)

// Catalog is the subset of catalog.Client used here.
type Catalog interface {
	Search(ctx context.Context, sources []string, pattern *regexp.Regexp, includePrerelease bool) ([]catalog.Entry, []fault.ItemError)
	Lookup(ctx context.Context, sources []string, name string) (*catalog.Entry, error)
}

// Registry tracks installed extensions, search paths and catalog sources.
type Registry struct {
	store         *store.Store
	git           gitx.Workspace
	catalog       Catalog
	managedRoot   string
	defaultSource string
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultSource sets the catalog that is always searched.
func WithDefaultSource(src string) Option {
	return func(r *Registry) { r.defaultSource = src }
}

// NewRegistry returns a Registry persisted in s. managedRoot is where
// extensions are installed by default.
func NewRegistry(s *store.Store, git gitx.Workspace, cat Catalog, managedRoot string, opts ...Option) *Registry {
	r := &Registry{store: s, git: git, catalog: cat, managedRoot: filepath.Clean(managedRoot)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ManagedRoot returns the default install directory.
func (r *Registry) ManagedRoot() string { return r.managedRoot }

func (r *Registry) list(key string) []string {
	v, err := r.store.List(Section, key)
	if err != nil {
		return nil
	}
	return v
}

// SearchPaths returns the managed directory followed by user-added paths.
func (r *Registry) SearchPaths() []string {
	out := []string{r.managedRoot}
	for _, p := range r.list(keySearchPaths) {
		if !samePath(p, r.managedRoot) {
			out = append(out, p)
		}
	}
	return out
}

// AddSearchPath registers an existing directory. Adding a known path is a
// no-op.
func (r *Registry) AddSearchPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fault.New(fault.Validation, "search path %s is not a directory", abs)
	}
	for _, p := range r.SearchPaths() {
		if samePath(p, abs) {
			return nil
		}
	}
	return r.store.SetList(Section, keySearchPaths, append(r.list(keySearchPaths), abs))
}

// ForgetSearchPath unregisters a user-added path.
func (r *Registry) ForgetSearchPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if samePath(abs, r.managedRoot) {
		return fault.Wrap(fault.Validation, ErrManagedPath, "%s", abs)
	}
	paths := r.list(keySearchPaths)
	kept := paths[:0:0]
	for _, p := range paths {
		if !samePath(p, abs) {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(paths) {
		return fault.Wrap(fault.NotFound, ErrUnknownPath, "%s", abs)
	}
	return r.store.SetList(Section, keySearchPaths, kept)
}

// Sources returns user-added catalog sources.
func (r *Registry) Sources() []string {
	return r.list(keySources)
}

func (r *Registry) allSources() []string {
	return catalog.WithDefault(r.Sources(), r.defaultSource)
}

// AddSource registers a catalog URL or an existing local catalog file.
func (r *Registry) AddSource(src string) error {
	if !catalog.IsRemote(src) {
		abs, err := filepath.Abs(src)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", src, err)
		}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			return fault.New(fault.Validation, "catalog source %s is not a file", abs)
		}
		src = abs
	}
	for _, s := range r.Sources() {
		if s == src {
			return nil
		}
	}
	return r.store.SetList(Section, keySources, append(r.Sources(), src))
}

// ForgetSource unregisters a catalog source.
func (r *Registry) ForgetSource(src string) error {
	sources := r.Sources()
	var kept []string
	for _, s := range sources {
		if s != src {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(sources) {
		return fault.Wrap(fault.NotFound, ErrUnknownSource, "%s", src)
	}
	return r.store.SetList(Section, keySources, kept)
}

func (r *Registry) states() map[string]string {
	m, err := r.store.Map(Section, keyState)
	if err != nil {
		return map[string]string{}
	}
	return m
}

// Installed scans all search paths in order. Extensions that cannot be read
// are reported per item.
func (r *Registry) Installed(ctx context.Context) ([]*Extension, []fault.ItemError) {
	states := r.states()
	var (
		out  []*Extension
		errs []fault.ItemError
	)
	for _, sp := range r.SearchPaths() {
		exts, itemErrs := InDirectory(sp)
		errs = append(errs, itemErrs...)
		for _, e := range exts {
			e.Enabled = states[strings.ToLower(e.Name)] != stateDisabled
			out = append(out, e)
		}
	}
	for _, ie := range errs {
		ctxlog.FromContext(ctx).Warn("unreadable extension", "path", ie.Item, "err", ie.Err)
	}
	return out, errs
}

// Find returns the first installed extension named name (case-insensitive)
// in search path order.
func (r *Registry) Find(ctx context.Context, name string) (*Extension, error) {
	exts, _ := r.Installed(ctx)
	for _, e := range exts {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return nil, fault.Wrap(fault.NotFound, ErrNotFound, "%q", name)
}

// InstallOptions describe an extension to install.
type InstallOptions struct {
	Name string
	// Type may be empty when the definition comes from a catalog.
	Type    Type
	RepoURL string
	// Dest defaults to the managed root; other directories are added to the
	// search paths.
	Dest     string
	Branch   string
	Username string
	Password string
}

// Install clones an extension. Without a RepoURL the definition is taken
// from the catalogs.
func (r *Registry) Install(ctx context.Context, opts InstallOptions) (*Extension, error) {
	creds, err := gitx.NewCredentials(opts.Username, opts.Password)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fault.New(fault.Validation, "extension name is empty")
	}
	if _, err := r.Find(ctx, opts.Name); err == nil {
		return nil, fault.Wrap(fault.Validation, ErrAlreadyInstalled, "%q", opts.Name)
	}

	if opts.RepoURL == "" {
		entry, err := r.catalog.Lookup(ctx, r.allSources(), opts.Name)
		if err != nil {
			return nil, err
		}
		opts.RepoURL = entry.URL
		if opts.Type == "" {
			if opts.Type, err = ParseType(entry.Type); err != nil {
				return nil, err
			}
		}
	}
	if opts.Type == "" {
		opts.Type = UI
	}

	dest := r.managedRoot
	if opts.Dest != "" {
		if dest, err = filepath.Abs(opts.Dest); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", opts.Dest, err)
		}
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	target := filepath.Join(dest, DirName(opts.Name, opts.Type))

	log := ctxlog.FromContext(ctx)
	log.Info("installing extension", "name", opts.Name, "url", gitx.RedactURL(opts.RepoURL), "dest", target)
	err = r.git.Clone(ctx, gitx.CloneOptions{
		URL:         opts.RepoURL,
		Branch:      opts.Branch,
		Dest:        target,
		Depth:       1,
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("installing extension %q: %w", opts.Name, err)
	}

	if !samePath(dest, r.managedRoot) {
		if err := r.AddSearchPath(dest); err != nil {
			return nil, err
		}
	}
	if err := r.setState(opts.Name, stateEnabled); err != nil {
		return nil, err
	}
	return r.Find(ctx, opts.Name)
}

// Uninstall removes the extension's directory and its state.
func (r *Registry) Uninstall(ctx context.Context, name string) error {
	e, err := r.Find(ctx, name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(e.Path); err != nil {
		return fmt.Errorf("removing %s: %w", e.Path, err)
	}
	states := r.states()
	if _, ok := states[strings.ToLower(e.Name)]; ok {
		delete(states, strings.ToLower(e.Name))
		if err := r.store.SetMap(Section, keyState, states); err != nil {
			return err
		}
	}
	ctxlog.FromContext(ctx).Info("removed extension", "name", e.Name, "path", e.Path)
	return nil
}

// Enable marks an installed extension enabled.
func (r *Registry) Enable(ctx context.Context, name string) error {
	e, err := r.Find(ctx, name)
	if err != nil {
		return err
	}
	return r.setState(e.Name, stateEnabled)
}

// Disable marks an installed extension disabled.
func (r *Registry) Disable(ctx context.Context, name string) error {
	e, err := r.Find(ctx, name)
	if err != nil {
		return err
	}
	return r.setState(e.Name, stateDisabled)
}

func (r *Registry) setState(name, state string) error {
	states := r.states()
	states[strings.ToLower(name)] = state
	return r.store.SetMap(Section, keyState, states)
}

func (r *Registry) gitExtension(ctx context.Context, name string) (*Extension, error) {
	e, err := r.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	if !e.IsGit {
		return nil, fault.Wrap(fault.GitBackendRequired, ErrNotGit, "%q", e.Name)
	}
	return e, nil
}

// Origin returns the extension's remote URL.
func (r *Registry) Origin(ctx context.Context, name string) (string, error) {
	e, err := r.gitExtension(ctx, name)
	if err != nil {
		return "", err
	}
	return r.git.Origin(ctx, e.Path)
}

// SetOrigin points the extension at a new remote.
func (r *Registry) SetOrigin(ctx context.Context, name, url string) error {
	if strings.TrimSpace(url) == "" {
		return fault.New(fault.Validation, "origin url is empty")
	}
	e, err := r.gitExtension(ctx, name)
	if err != nil {
		return err
	}
	return r.git.SetOrigin(ctx, e.Path, url)
}

// ResetOrigin restores the remote from the catalog definition of the same
// name.
func (r *Registry) ResetOrigin(ctx context.Context, name string) error {
	e, err := r.gitExtension(ctx, name)
	if err != nil {
		return err
	}
	entry, err := r.catalog.Lookup(ctx, r.allSources(), e.Name)
	if err != nil {
		return err
	}
	return r.git.SetOrigin(ctx, e.Path, entry.URL)
}

// Update pulls the latest changes for a git-backed extension.
func (r *Registry) Update(ctx context.Context, name string) error {
	e, err := r.gitExtension(ctx, name)
	if err != nil {
		return err
	}
	if err := r.git.Pull(ctx, e.Path); err != nil {
		return fmt.Errorf("updating extension %q: %w", e.Name, err)
	}
	ctxlog.FromContext(ctx).Info("updated extension", "name", e.Name)
	return nil
}

// UpdateAll pulls every git-backed extension. Non-git extensions are
// skipped.
func (r *Registry) UpdateAll(ctx context.Context) ([]string, []fault.ItemError) {
	exts, errs := r.Installed(ctx)
	var updated []string
	for _, e := range exts {
		if !e.IsGit {
			continue
		}
		if err := r.git.Pull(ctx, e.Path); err != nil {
			errs = append(errs, fault.ItemError{Item: e.Name, Err: err})
			continue
		}
		updated = append(updated, e.Name)
	}
	return updated, errs
}

// Search queries the configured catalogs plus the default one. pattern is
// matched case-insensitively against names and descriptions.
func (r *Registry) Search(ctx context.Context, pattern string, includePrerelease bool) ([]catalog.Entry, []fault.ItemError, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile("(?i)" + pattern); err != nil {
			return nil, nil, fault.Wrap(fault.Validation, err, "search pattern %q", pattern)
		}
	}
	entries, errs := r.catalog.Search(ctx, r.allSources(), re, includePrerelease)
	return entries, errs, nil
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if os.PathSeparator == '\\' {
		return strings.EqualFold(a, b)
	}
	return a == b
}

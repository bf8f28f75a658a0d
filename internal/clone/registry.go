package clone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/gitx"
	"github.com/rvtx-labs/rvtx/internal/store"
)

// Section is the registry section holding clone records.
const Section = "clones"

var (
	ErrNotFound          = errors.New("clone not found")
	ErrAmbiguous         = errors.New("clone name is ambiguous")
	ErrInvalid           = errors.New("clone is not a valid deployment")
	ErrNameTaken         = errors.New("clone name already registered")
	ErrPathTaken         = errors.New("path already registered")
	ErrNotGit            = errors.New("clone is not git-backed")
	ErrForceRequired     = errors.New("working tree has local changes; use --force")
	ErrUnknownDeployment = errors.New("deployment not defined in clonefile")
	ErrNoVersion         = errors.New("clone has no version")
)

// Registry is the durable name → clone mapping.
type Registry struct {
	store *store.Store
	git   gitx.Workspace
}

// NewRegistry returns a Registry persisted in s.
func NewRegistry(s *store.Store, git gitx.Workspace) *Registry {
	return &Registry{store: s, git: git}
}

func (r *Registry) record(key string) *Clone {
	m, err := r.store.Map(Section, key)
	if err != nil {
		return &Clone{Name: key}
	}
	c := &Clone{Name: key, Path: m["path"], Deployment: m["deployment"]}
	c.IsGit = c.Path != "" && gitx.IsRepo(c.Path)
	return c
}

// List returns every registered clone sorted by name.
func (r *Registry) List() []*Clone {
	keys := r.store.Keys(Section)
	out := make([]*Clone, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.record(k))
	}
	return out
}

// lookup resolves name case-insensitively without validating the tree.
func (r *Registry) lookup(name string) (*Clone, error) {
	var matches []string
	for _, k := range r.store.Keys(Section) {
		if strings.EqualFold(k, name) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fault.Wrap(fault.NotFound, ErrNotFound, "%q", name)
	case 1:
		return r.record(matches[0]), nil
	}
	return nil, fault.Wrap(fault.NotFound, ErrAmbiguous, "%q matches %s", name, strings.Join(matches, ", "))
}

// Get resolves name and checks the clone's tree is still a valid deployment.
func (r *Registry) Get(name string) (*Clone, error) {
	c, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if c.Path == "" || !isDir(c.Path) || !IsLayout(c.Path) {
		return nil, fault.Wrap(fault.Validation, ErrInvalid, "clone %q at %q", c.Name, c.Path)
	}
	return c, nil
}

// Register records an existing deployment at path under name.
func (r *Registry) Register(ctx context.Context, path, name string) (*Clone, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fault.New(fault.Validation, "clone name is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if !isDir(abs) || !IsLayout(abs) {
		return nil, fault.Wrap(fault.Validation, ErrInvalid, "%s", abs)
	}
	if _, err := r.lookup(name); err == nil {
		return nil, fault.Wrap(fault.Validation, ErrNameTaken, "%q", name)
	}
	for _, c := range r.List() {
		if samePath(c.Path, abs) {
			return nil, fault.Wrap(fault.Validation, ErrPathTaken, "%s is registered as %q", abs, c.Name)
		}
	}

	c := &Clone{Name: name, Path: abs, Deployment: readDeploymentMarker(abs), IsGit: gitx.IsRepo(abs)}
	if err := r.store.SetMap(Section, name, toRecord(c)); err != nil {
		return nil, fmt.Errorf("saving clone %q: %w", name, err)
	}
	ctxlog.FromContext(ctx).Info("registered clone", "name", name, "path", abs)
	return c, nil
}

func toRecord(c *Clone) map[string]string {
	m := map[string]string{"path": c.Path}
	if c.Deployment != "" {
		m["deployment"] = c.Deployment
	}
	return m
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if os.PathSeparator == '\\' {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Forget drops the registry record and leaves files in place.
func (r *Registry) Forget(name string) error {
	c, err := r.lookup(name)
	if err != nil {
		return err
	}
	if _, err := r.store.Delete(Section, c.Name); err != nil {
		return fmt.Errorf("forgetting clone %q: %w", c.Name, err)
	}
	return nil
}

// ForgetAll drops every clone record.
func (r *Registry) ForgetAll() error {
	return r.store.Update(func(w *store.Writer) error {
		for _, k := range r.store.Keys(Section) {
			w.Delete(Section, k)
		}
		return nil
	})
}

// Rename changes a clone's registered name.
func (r *Registry) Rename(name, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return fault.New(fault.Validation, "new clone name is empty")
	}
	c, err := r.lookup(name)
	if err != nil {
		return err
	}
	if other, err := r.lookup(newName); err == nil && other.Name != c.Name {
		return fault.Wrap(fault.Validation, ErrNameTaken, "%q", newName)
	}
	return r.store.Update(func(w *store.Writer) error {
		w.Delete(Section, c.Name)
		w.SetMap(Section, newName, toRecord(c))
		return nil
	})
}

// Delete removes the clone's tree and then its record.
func (r *Registry) Delete(ctx context.Context, name string) error {
	c, err := r.lookup(name)
	if err != nil {
		return err
	}
	if c.Path != "" {
		if err := os.RemoveAll(c.Path); err != nil {
			return fmt.Errorf("removing clone %q at %s: %w", c.Name, c.Path, err)
		}
	}
	ctxlog.FromContext(ctx).Info("deleted clone", "name", c.Name, "path", c.Path)
	return r.Forget(c.Name)
}

// MaterializeOptions describe a new git clone.
type MaterializeOptions struct {
	Name       string
	Deployment string
	// Dest is the parent directory; the clone lands in Dest/Name.
	Dest    string
	RepoURL string
	Branch  string
}

// Materialize clones the framework repository and registers it.
func (r *Registry) Materialize(ctx context.Context, opts MaterializeOptions) (*Clone, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fault.New(fault.Validation, "clone name is empty")
	}
	if _, err := r.lookup(opts.Name); err == nil {
		return nil, fault.Wrap(fault.Validation, ErrNameTaken, "%q", opts.Name)
	}
	if opts.RepoURL == "" {
		opts.RepoURL = branding.FrameworkRepoURL()
	}
	target := filepath.Join(opts.Dest, opts.Name)

	err := r.git.Clone(ctx, gitx.CloneOptions{URL: opts.RepoURL, Branch: opts.Branch, Dest: target})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", gitx.RedactURL(opts.RepoURL), err)
	}
	if err := finishTree(target, opts.Deployment); err != nil {
		_ = os.RemoveAll(target)
		return nil, err
	}
	return r.Register(ctx, target, opts.Name)
}

// finishTree validates a freshly created tree and stamps its deployment.
func finishTree(dir, deployment string) error {
	if !IsLayout(dir) {
		return fault.Wrap(fault.Validation, ErrInvalid, "%s", dir)
	}
	if deployment != "" {
		l, err := readLayout(dir)
		if err != nil {
			return err
		}
		if _, ok := findDeployment(l, deployment); !ok {
			return fault.Wrap(fault.Validation, ErrUnknownDeployment, "%q", deployment)
		}
	}
	return writeDeploymentMarker(dir, deployment)
}

// gitClone resolves a clone that git operations may run on.
func (r *Registry) gitClone(name string) (*Clone, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if !c.IsGit {
		return nil, fault.Wrap(fault.GitBackendRequired, ErrNotGit, "%q", c.Name)
	}
	return c, nil
}

func (r *Registry) requireClean(ctx context.Context, c *Clone, force bool) error {
	if force {
		return nil
	}
	dirty, err := r.git.IsDirty(ctx, c.Path)
	if err != nil {
		return err
	}
	if dirty {
		return fault.Wrap(fault.Validation, ErrForceRequired, "clone %q", c.Name)
	}
	return nil
}

// Info returns the clone with git metadata filled in.
func (r *Registry) Info(ctx context.Context, name string) (*Clone, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if !c.IsGit {
		return c, nil
	}
	log := ctxlog.FromContext(ctx)
	read := func(field string, fn func(context.Context, string) (string, error)) string {
		v, err := fn(ctx, c.Path)
		if err != nil {
			log.Warn("reading git state", "clone", c.Name, "field", field, "err", err)
		}
		return v
	}
	c.Git.Origin = gitx.RedactURL(read("origin", r.git.Origin))
	c.Git.Branch = read("branch", r.git.Branch)
	c.Git.Commit = read("commit", r.git.Commit)
	c.Git.Tag = read("tag", r.git.Tag)
	return c, nil
}

// Branch returns the checked out branch.
func (r *Registry) Branch(ctx context.Context, name string) (string, error) {
	c, err := r.gitClone(name)
	if err != nil {
		return "", err
	}
	return r.git.Branch(ctx, c.Path)
}

// SetBranch checks out branch.
func (r *Registry) SetBranch(ctx context.Context, name, branch string, force bool) error {
	return r.checkout(ctx, name, branch, force)
}

// Version returns the nearest tag for git clones and the clonefile version
// for image clones.
func (r *Registry) Version(ctx context.Context, name string) (string, error) {
	c, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if c.IsGit {
		return r.git.Tag(ctx, c.Path)
	}
	l, err := readLayout(c.Path)
	if err != nil {
		return "", err
	}
	if l.Version == "" {
		return "", fault.Wrap(fault.NotFound, ErrNoVersion, "%q", c.Name)
	}
	return l.Version, nil
}

// SetVersion checks out tag.
func (r *Registry) SetVersion(ctx context.Context, name, tag string, force bool) error {
	return r.checkout(ctx, name, tag, force)
}

// Commit returns the HEAD commit hash.
func (r *Registry) Commit(ctx context.Context, name string) (string, error) {
	c, err := r.gitClone(name)
	if err != nil {
		return "", err
	}
	return r.git.Commit(ctx, c.Path)
}

// SetCommit checks out an exact commit.
func (r *Registry) SetCommit(ctx context.Context, name, commit string, force bool) error {
	return r.checkout(ctx, name, commit, force)
}

func (r *Registry) checkout(ctx context.Context, name, ref string, force bool) error {
	if strings.TrimSpace(ref) == "" {
		return fault.New(fault.Validation, "git ref is empty")
	}
	c, err := r.gitClone(name)
	if err != nil {
		return err
	}
	if err := r.requireClean(ctx, c, force); err != nil {
		return err
	}
	if err := r.git.Fetch(ctx, c.Path); err != nil {
		ctxlog.FromContext(ctx).Warn("fetch failed, checking out local refs", "clone", c.Name, "err", err)
	}
	if err := r.git.Checkout(ctx, c.Path, ref); err != nil {
		return fmt.Errorf("checking out %s in clone %q: %w", ref, c.Name, err)
	}
	return nil
}

// Origin returns the origin URL.
func (r *Registry) Origin(ctx context.Context, name string) (string, error) {
	c, err := r.gitClone(name)
	if err != nil {
		return "", err
	}
	return r.git.Origin(ctx, c.Path)
}

// SetOrigin points origin at url.
func (r *Registry) SetOrigin(ctx context.Context, name, url string) error {
	if strings.TrimSpace(url) == "" {
		return fault.New(fault.Validation, "origin url is empty")
	}
	c, err := r.gitClone(name)
	if err != nil {
		return err
	}
	return r.git.SetOrigin(ctx, c.Path, url)
}

// ResetOrigin points origin back at the official framework repository.
func (r *Registry) ResetOrigin(ctx context.Context, name string) error {
	return r.SetOrigin(ctx, name, branding.FrameworkRepoURL())
}

// Update fast-forwards the clone's current branch.
func (r *Registry) Update(ctx context.Context, name string, force bool) error {
	c, err := r.gitClone(name)
	if err != nil {
		return err
	}
	if err := r.requireClean(ctx, c, force); err != nil {
		return err
	}
	if err := r.git.Pull(ctx, c.Path); err != nil {
		return fmt.Errorf("updating clone %q: %w", c.Name, err)
	}
	return nil
}

// UpdateAll updates every git-backed clone and collects failures per clone.
// Image clones are skipped.
func (r *Registry) UpdateAll(ctx context.Context, force bool) ([]string, []fault.ItemError) {
	var (
		updated []string
		errs    []fault.ItemError
	)
	for _, c := range r.List() {
		if !c.IsGit {
			continue
		}
		if err := r.Update(ctx, c.Name, force); err != nil {
			errs = append(errs, fault.ItemError{Item: c.Name, Err: err})
			continue
		}
		updated = append(updated, c.Name)
	}
	return updated, errs
}

// Deployments lists the deployments declared in the clone's clonefile.
func (r *Registry) Deployments(name string) ([]Deployment, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	l, err := readLayout(c.Path)
	if err != nil {
		return nil, err
	}
	out := append([]Deployment(nil), l.Deployments...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Engines lists the clone's engines in ascending version order.
func (r *Registry) Engines(ctx context.Context, name string) ([]Engine, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return scanEngines(ctx, c.Path)
}

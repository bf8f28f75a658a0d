// Package gitxtest provides an in-memory gitx.Workspace for tests.
package gitxtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/gitx"
)

// Repo is the fake state of one working tree.
type Repo struct {
	Branch string
	Tag    string
	Commit string
	Origin string
	Dirty  bool
}

// Fake records calls and keeps per-directory repo state. Clone creates the
// destination with a .git directory and then runs Seed, if set, so tests can
// lay out files.
type Fake struct {
	mu    sync.Mutex
	Repos map[string]*Repo
	Calls []string
	Seed  func(opts gitx.CloneOptions) error
	// Fail makes the named operation ("clone", "pull", ...) return a
	// collaborator error.
	Fail map[string]error
}

var _ gitx.Workspace = (*Fake)(nil)

func New() *Fake {
	return &Fake{Repos: map[string]*Repo{}, Fail: map[string]error{}}
}

// Add registers dir as an existing repository and creates its .git marker.
func (f *Fake) Add(dir string, r Repo) error {
	if err := writeGitDir(dir); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Repos[filepath.Clean(dir)] = &r
	return nil
}

func (f *Fake) record(op, dir string) (*Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op+" "+dir)
	if err, ok := f.Fail[op]; ok {
		return nil, fault.Wrap(fault.Collaborator, err, "git %s", op)
	}
	if op == "clone" {
		return nil, nil
	}
	r, ok := f.Repos[filepath.Clean(dir)]
	if !ok {
		return nil, fault.New(fault.Collaborator, "git %s: %s is not a git repository", op, dir)
	}
	return r, nil
}

func (f *Fake) Clone(_ context.Context, opts gitx.CloneOptions) error {
	if _, err := os.Stat(opts.Dest); err == nil {
		return fault.Wrap(fault.Validation, gitx.ErrDestExists, "%s", opts.Dest)
	}
	if _, err := f.record("clone", opts.Dest); err != nil {
		return err
	}
	if err := writeGitDir(opts.Dest); err != nil {
		return err
	}
	if f.Seed != nil {
		if err := f.Seed(opts); err != nil {
			return err
		}
	}
	branch := opts.Branch
	if branch == "" {
		branch = "master"
	}
	f.mu.Lock()
	f.Repos[filepath.Clean(opts.Dest)] = &Repo{Branch: branch, Commit: "0000001", Origin: opts.URL}
	f.mu.Unlock()
	return nil
}

func (f *Fake) Pull(_ context.Context, dir string) error {
	r, err := f.record("pull", dir)
	if err != nil {
		return err
	}
	r.Commit = fmt.Sprintf("%s+1", r.Commit)
	return nil
}

func (f *Fake) Fetch(_ context.Context, dir string) error {
	_, err := f.record("fetch", dir)
	return err
}

func (f *Fake) Checkout(_ context.Context, dir, ref string) error {
	r, err := f.record("checkout", dir)
	if err != nil {
		return err
	}
	r.Branch, r.Tag, r.Commit = ref, ref, ref
	return nil
}

func (f *Fake) Branch(_ context.Context, dir string) (string, error) {
	r, err := f.record("branch", dir)
	if err != nil {
		return "", err
	}
	return r.Branch, nil
}

func (f *Fake) Tag(_ context.Context, dir string) (string, error) {
	r, err := f.record("tag", dir)
	if err != nil {
		return "", err
	}
	return r.Tag, nil
}

func (f *Fake) Commit(_ context.Context, dir string) (string, error) {
	r, err := f.record("commit", dir)
	if err != nil {
		return "", err
	}
	return r.Commit, nil
}

func (f *Fake) Origin(_ context.Context, dir string) (string, error) {
	r, err := f.record("origin", dir)
	if err != nil {
		return "", err
	}
	return r.Origin, nil
}

func (f *Fake) SetOrigin(_ context.Context, dir, url string) error {
	r, err := f.record("set-origin", dir)
	if err != nil {
		return err
	}
	r.Origin = url
	return nil
}

func (f *Fake) IsDirty(_ context.Context, dir string) (bool, error) {
	r, err := f.record("status", dir)
	if err != nil {
		return false, err
	}
	return r.Dirty, nil
}

// Count returns how many recorded calls start with op.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) > len(op) && c[:len(op)+1] == op+" " {
			n++
		}
	}
	return n
}

func writeGitDir(dir string) error {
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/master\n"), 0644)
}

package gitx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

// tmpSuffix is appended to the target dir during atomic clone.
const tmpSuffix = ".tmp"

var (
	ErrGitMissing      = errors.New("git is required but not found in PATH")
	ErrCredentialsPair = errors.New("username and password must be given together")
	ErrDestExists      = errors.New("destination already exists")
)

// Workspace materializes and inspects git working trees.
type Workspace interface {
	Clone(ctx context.Context, opts CloneOptions) error
	Pull(ctx context.Context, dir string) error
	Fetch(ctx context.Context, dir string) error
	Checkout(ctx context.Context, dir, ref string) error
	Branch(ctx context.Context, dir string) (string, error)
	Tag(ctx context.Context, dir string) (string, error)
	Commit(ctx context.Context, dir string) (string, error)
	Origin(ctx context.Context, dir string) (string, error)
	SetOrigin(ctx context.Context, dir, url string) error
	IsDirty(ctx context.Context, dir string) (bool, error)
}

// CloneOptions describes one clone.
type CloneOptions struct {
	URL         string
	Branch      string
	Dest        string
	Depth       int
	Credentials *Credentials
}

// Credentials authenticate against a private https remote.
type Credentials struct {
	Username string
	Password string
}

// NewCredentials returns nil when both parts are empty and rejects a
// half-filled pair.
func NewCredentials(username, password string) (*Credentials, error) {
	if username == "" && password == "" {
		return nil, nil
	}
	if username == "" || password == "" {
		return nil, fault.Wrap(fault.Validation, ErrCredentialsPair, "")
	}
	return &Credentials{Username: username, Password: password}, nil
}

// AuthURL embeds credentials into an http(s) remote URL.
func AuthURL(raw string, creds *Credentials) (string, error) {
	if creds == nil {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fault.Wrap(fault.Validation, err, "parsing repo url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fault.New(fault.Validation, "credentials need an http(s) url, got %q", raw)
	}
	u.User = url.UserPassword(creds.Username, creds.Password)
	return u.String(), nil
}

// RedactURL masks the password of a URL for display.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// IsRepo reports whether dir is the root of a git working tree.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// CLI drives the git binary.
type CLI struct {
	Binary string
}

// New returns a CLI using binary, or "git" when empty.
func New(binary string) *CLI {
	if binary == "" {
		binary = "git"
	}
	return &CLI{Binary: binary}
}

func (g *CLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	if _, err := exec.LookPath(g.Binary); err != nil {
		return "", fault.Wrap(fault.Collaborator, ErrGitMissing, "")
	}
	ctxlog.FromContext(ctx).Debug("git", "dir", dir, "args", redactArgs(args))

	cmd := exec.CommandContext(ctx, g.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, fault.Wrap(fault.Collaborator, fmt.Errorf("%w\n%s", err, out), "git %s", args[0])
	}
	return out, nil
}

// Clone clones into opts.Dest. The clone is atomic: it writes to a .tmp
// directory first, then renames on success. On failure the .tmp directory
// is cleaned up.
func (g *CLI) Clone(ctx context.Context, opts CloneOptions) error {
	if _, err := os.Stat(opts.Dest); err == nil {
		return fault.Wrap(fault.Validation, ErrDestExists, "%s", opts.Dest)
	}
	remote, err := AuthURL(opts.URL, opts.Credentials)
	if err != nil {
		return err
	}

	tmpDir := opts.Dest + tmpSuffix
	// Clean up any leftover tmp dir from a previous failed attempt.
	_ = os.RemoveAll(tmpDir)
	if err := os.MkdirAll(filepath.Dir(tmpDir), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, fmt.Sprintf("--depth=%d", opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "-b", opts.Branch)
	}
	args = append(args, remote, tmpDir)
	if _, err := g.run(ctx, "", args...); err != nil {
		_ = os.RemoveAll(tmpDir)
		return err
	}

	// Keep the stored origin free of credentials.
	if opts.Credentials != nil {
		if _, err := g.run(ctx, tmpDir, "remote", "set-url", "origin", opts.URL); err != nil {
			_ = os.RemoveAll(tmpDir)
			return err
		}
	}

	if err := os.Rename(tmpDir, opts.Dest); err != nil {
		_ = os.RemoveAll(tmpDir)
		return fmt.Errorf("finalizing clone: %w", err)
	}
	return nil
}

// Pull fast-forwards the current branch.
func (g *CLI) Pull(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "pull", "--ff-only")
	return err
}

// Fetch fetches all branches and tags from origin.
func (g *CLI) Fetch(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "fetch", "--tags", "origin")
	return err
}

// Checkout switches the working tree to a branch, tag or commit.
func (g *CLI) Checkout(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "checkout", ref)
	return err
}

// Branch returns the checked out branch, or "HEAD" when detached.
func (g *CLI) Branch(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// Tag returns the nearest tag reachable from HEAD.
func (g *CLI) Tag(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "describe", "--tags", "--abbrev=0")
}

// Commit returns the full hash of HEAD.
func (g *CLI) Commit(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "rev-parse", "HEAD")
}

// Origin returns the origin remote URL.
func (g *CLI) Origin(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "remote", "get-url", "origin")
}

// SetOrigin points origin at url, adding the remote when missing.
func (g *CLI) SetOrigin(ctx context.Context, dir, url string) error {
	if _, err := g.run(ctx, dir, "remote", "set-url", "origin", url); err != nil {
		if _, addErr := g.run(ctx, dir, "remote", "add", "origin", url); addErr != nil {
			return err
		}
	}
	return nil
}

// IsDirty reports uncommitted changes to tracked files.
func (g *CLI) IsDirty(ctx context.Context, dir string) (bool, error) {
	out, err := g.run(ctx, dir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = RedactURL(a)
	}
	return out
}

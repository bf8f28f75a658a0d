package releases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

const githubAPIBase = "https://api.github.com"

// ErrNoRelease is returned when nothing matches a query.
var ErrNoRelease = errors.New("no matching release")

// Release is a published GitHub release.
type Release struct {
	Tag        string    `json:"tag_name"`
	Name       string    `json:"name"`
	Notes      string    `json:"body"`
	Prerelease bool      `json:"prerelease"`
	Draft      bool      `json:"draft"`
	Published  time.Time `json:"published_at"`
	HTMLURL    string    `json:"html_url"`
	Assets     []Asset   `json:"assets"`
}

// Asset is a file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Version parses the tag, tolerating a leading "v". Nil when the tag is not
// a version.
func (r Release) Version() *semver.Version {
	v, err := parseSemver(r.Tag)
	if err != nil {
		return nil
	}
	return v
}

// IsPrerelease reports a release flagged as such or tagged with a
// prerelease version.
func (r Release) IsPrerelease() bool {
	if r.Prerelease {
		return true
	}
	v := r.Version()
	return v != nil && v.Prerelease() != ""
}

// Client fetches releases of one repository.
type Client struct {
	repo       string
	baseURL    string
	httpClient *http.Client
	cacheDir   string
	ttl        time.Duration
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(cl *Client) { cl.baseURL = strings.TrimRight(u, "/") }
}

// WithRepo overrides the owner/name repository.
func WithRepo(repo string) Option {
	return func(cl *Client) { cl.repo = repo }
}

// WithCache keeps the release list in dir for ttl.
func WithCache(dir string, ttl time.Duration) Option {
	return func(cl *Client) { cl.cacheDir, cl.ttl = dir, ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

func New(opts ...Option) *Client {
	c := &Client{
		repo:       branding.GitHubRepo(),
		baseURL:    githubAPIBase,
		httpClient: http.DefaultClient,
		ttl:        DefaultCacheMaxAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns published releases, newest version first. Tags that are not
// versions sort last by publish date. A fresh cache is used when present; a
// stale cache is used when the API cannot be reached.
func (c *Client) List(ctx context.Context) ([]Release, error) {
	log := ctxlog.FromContext(ctx)
	cache, err := LoadCache(c.cacheDir)
	if err != nil {
		log.Debug("ignoring unreadable releases cache", "err", err)
		cache = nil
	}
	if cache != nil && !cache.IsStale(c.now(), c.ttl) {
		return cache.Releases, nil
	}

	rels, err := c.fetch(ctx)
	if err != nil {
		if cache != nil {
			log.Warn("using stale releases cache", "err", err)
			return cache.Releases, nil
		}
		return nil, err
	}
	if c.cacheDir != "" {
		if err := SaveCache(c.cacheDir, &Cache{Repo: c.repo, CheckedAt: c.now(), Releases: rels}); err != nil {
			log.Debug("could not save releases cache", "err", err)
		}
	}
	return rels, nil
}

// Latest returns the newest release, skipping prereleases unless asked.
func (c *Client) Latest(ctx context.Context, includePre bool) (*Release, error) {
	rels, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rels {
		if includePre || !rels[i].IsPrerelease() {
			return &rels[i], nil
		}
	}
	return nil, fault.Wrap(fault.NotFound, ErrNoRelease, "latest")
}

// Find returns releases whose tag or name matches pattern
// (case-insensitive). An empty pattern matches all.
func (c *Client) Find(ctx context.Context, pattern string, includePre bool) ([]Release, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "invalid pattern %q", pattern)
	}
	rels, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Release
	for _, r := range rels {
		if !includePre && r.IsPrerelease() {
			continue
		}
		if re.MatchString(r.Tag) || re.MatchString(r.Name) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context) ([]Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=100", c.baseURL, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", branding.CLIName()+"-releases")
	// Optional token for higher rate limits.
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Collaborator, err, "fetching releases")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fault.New(fault.NotFound, "repository %s not found", c.repo)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fault.New(fault.Collaborator, "GitHub API rate limit exceeded. Set GITHUB_TOKEN for higher limits")
	case resp.StatusCode != http.StatusOK:
		return nil, fault.New(fault.Collaborator, "GitHub API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Collaborator, err, "reading response body")
	}
	var all []Release
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fault.Wrap(fault.Collaborator, err, "parsing releases JSON")
	}

	rels := all[:0]
	for _, r := range all {
		if !r.Draft {
			rels = append(rels, r)
		}
	}
	sortNewestFirst(rels)
	return rels, nil
}

func sortNewestFirst(rels []Release) {
	sort.SliceStable(rels, func(i, j int) bool {
		vi, vj := rels[i].Version(), rels[j].Version()
		switch {
		case vi != nil && vj != nil:
			return vi.GreaterThan(vj)
		case vi != nil:
			return true
		case vj != nil:
			return false
		}
		return rels[i].Published.After(rels[j].Published)
	})
}

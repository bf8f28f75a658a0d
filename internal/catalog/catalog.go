package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

// DefaultTTL is how long a cached remote catalog stays fresh.
const DefaultTTL = 24 * time.Hour

// ErrNoEntry is returned by Lookup when no catalog defines the name.
var ErrNoEntry = errors.New("no catalog entry")

// Entry is one installable extension definition.
type Entry struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	Author         string `json:"author,omitempty"`
	URL            string `json:"url"`
	Website        string `json:"website,omitempty"`
	Version        string `json:"version,omitempty"`
	DefaultEnabled bool   `json:"default_enabled,omitempty"`
	// Source is the catalog the entry was read from.
	Source string `json:"source,omitempty"`
}

// IsPrerelease reports whether the entry's version carries a semver
// prerelease tag. Unversioned or unparsable entries count as releases.
func (e Entry) IsPrerelease() bool {
	v, err := semver.NewVersion(e.Version)
	if err != nil {
		return false
	}
	return v.Prerelease() != ""
}

type document struct {
	Extensions []Entry `json:"extensions"`
}

// Client loads catalogs from local files and URLs.
type Client struct {
	httpClient *http.Client
	cacheDir   string
	ttl        time.Duration
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for remote catalogs.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTTL sets the freshness window for cached remote catalogs.
func WithTTL(ttl time.Duration) Option {
	return func(cl *Client) {
		if ttl > 0 {
			cl.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// NewClient creates a Client caching remote catalogs under cacheDir. An
// empty cacheDir disables caching.
func NewClient(cacheDir string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cacheDir:   cacheDir,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRemote reports whether source is an http(s) URL.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// WithDefault returns sources with the built-in catalog appended when it is
// not already listed.
func WithDefault(sources []string, def string) []string {
	if def == "" {
		def = branding.DefaultCatalog()
	}
	out := append([]string(nil), sources...)
	for _, s := range out {
		if s == def {
			return out
		}
	}
	return append(out, def)
}

// Load reads, validates and decodes one catalog source.
func (c *Client) Load(ctx context.Context, source string) ([]Entry, error) {
	var (
		data []byte
		err  error
	)
	if IsRemote(source) {
		data, err = c.fetchCached(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fault.Wrap(fault.NotFound, err, "catalog %s", source)
		}
	}
	if err != nil {
		return nil, err
	}

	issues, err := Validate(data)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "catalog %s", source)
	}
	if len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, is := range issues {
			msgs[i] = is.String()
		}
		return nil, fault.New(fault.Validation, "catalog %s is invalid: %s", source, strings.Join(msgs, "; "))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fault.Wrap(fault.Validation, err, "decoding catalog %s", source)
	}
	for i := range doc.Extensions {
		doc.Extensions[i].Source = source
	}
	return doc.Extensions, nil
}

// Search returns entries whose name or description matches pattern across
// all sources. The first source defining a name wins. Sources that fail to
// load are reported per item and do not stop the search.
func (c *Client) Search(ctx context.Context, sources []string, pattern *regexp.Regexp, includePrerelease bool) ([]Entry, []fault.ItemError) {
	var (
		out     []Entry
		itemErr []fault.ItemError
		seen    = map[string]bool{}
	)
	for _, src := range sources {
		entries, err := c.Load(ctx, src)
		if err != nil {
			itemErr = append(itemErr, fault.ItemError{Item: src, Err: err})
			continue
		}
		for _, e := range entries {
			key := strings.ToLower(e.Name)
			if seen[key] {
				continue
			}
			if !includePrerelease && e.IsPrerelease() {
				continue
			}
			if pattern != nil && !pattern.MatchString(e.Name) && !pattern.MatchString(e.Description) {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, itemErr
}

// Lookup finds the definition of name (case-insensitive) in the first
// source that has it.
func (c *Client) Lookup(ctx context.Context, sources []string, name string) (*Entry, error) {
	var loadErrs []error
	for _, src := range sources {
		entries, err := c.Load(ctx, src)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("skipping catalog", "source", src, "err", err)
			loadErrs = append(loadErrs, err)
			continue
		}
		for i := range entries {
			if strings.EqualFold(entries[i].Name, name) {
				return &entries[i], nil
			}
		}
	}
	if len(loadErrs) == len(sources) && len(sources) > 0 {
		return nil, fault.Wrap(fault.Collaborator, errors.Join(loadErrs...), "no catalog could be loaded")
	}
	return nil, fault.Wrap(fault.NotFound, ErrNoEntry, "%q", name)
}

func (c *Client) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8])+".json")
}

// fetchCached serves a fresh cache entry, otherwise downloads the catalog.
// When the download fails a stale cache entry is used instead.
func (c *Client) fetchCached(ctx context.Context, url string) ([]byte, error) {
	log := ctxlog.FromContext(ctx)
	var cached []byte
	if c.cacheDir != "" {
		p := c.cachePath(url)
		if info, err := os.Stat(p); err == nil {
			cached, _ = os.ReadFile(p)
			if cached != nil && c.now().Sub(info.ModTime()) < c.ttl {
				log.Debug("catalog cache hit", "url", url)
				return cached, nil
			}
		}
	}

	data, err := c.fetch(ctx, url)
	if err != nil {
		if cached != nil {
			log.Warn("using stale catalog cache", "url", url, "err", err)
			return cached, nil
		}
		return nil, err
	}
	if c.cacheDir != "" {
		if err := c.writeCache(url, data); err != nil {
			log.Warn("caching catalog", "url", url, "err", err)
		}
	}
	return data, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "catalog url %s", url)
	}
	req.Header.Set("User-Agent", branding.CLIName()+"-catalog")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Collaborator, err, "fetching catalog")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.Collaborator, "fetching catalog %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Collaborator, err, "reading catalog %s", url)
	}
	return data, nil
}

func (c *Client) writeCache(url string, data []byte) error {
	if err := os.MkdirAll(c.cacheDir, 0755); err != nil {
		return fmt.Errorf("creating catalog cache: %w", err)
	}
	p := c.cachePath(url)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// ClearCache removes every cached remote catalog.
func (c *Client) ClearCache() error {
	if c.cacheDir == "" {
		return nil
	}
	if err := os.RemoveAll(c.cacheDir); err != nil {
		return fmt.Errorf("clearing catalog cache: %w", err)
	}
	return nil
}

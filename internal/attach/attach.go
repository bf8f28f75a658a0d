package attach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/platform"
	"github.com/rvtx-labs/rvtx/internal/store"
)

// Section is the registry section holding attachment records keyed by year.
const Section = "attachments"

// Engine selectors.
const (
	SelectLatest     = "latest"
	SelectDynamoSafe = "dynamosafe"
)

// DynamoSafeConstraint bounds engines known to load alongside Dynamo.
const DynamoSafeConstraint = "<= 2.7.7"

var (
	ErrNotAttached       = errors.New("not attached")
	ErrInvalidYear       = errors.New("unsupported host year")
	ErrDangling          = errors.New("attachment references a missing clone or engine")
	ErrNoEngine          = errors.New("no matching engine")
	ErrElevationRequired = errors.New("all-users attachments require an elevated process")
	ErrReselectEngine    = errors.New("attached engine is not in the new clone; specify an engine")
)

// Scope is where an attachment record lives.
type Scope string

const (
	CurrentUser Scope = "user"
	AllUsers    Scope = "allusers"
)

// ParseScope maps the CLI's --allusers switch onto a Scope.
func ParseScope(allUsers bool) Scope {
	if allUsers {
		return AllUsers
	}
	return CurrentUser
}

// Attachment is a stored binding.
type Attachment struct {
	HostYear int    `json:"year"`
	Clone    string `json:"clone"`
	Path     string `json:"path,omitempty"`
	Engine   string `json:"engine"`
	Selector string `json:"selector"`
	Scope    Scope  `json:"scope"`
}

// Resolved is an attachment whose clone and engine were found.
type Resolved struct {
	Attachment
	CloneRef  *clone.Clone `json:"-"`
	EngineRef clone.Engine `json:"-"`
}

// Clones is the subset of the clone registry used here.
type Clones interface {
	Get(name string) (*clone.Clone, error)
	List() []*clone.Clone
	Engines(ctx context.Context, name string) ([]clone.Engine, error)
}

// Resolver reads and writes attachments.
type Resolver struct {
	user     *store.Store
	machine  *store.Store
	clones   Clones
	elevated func() bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithElevation overrides the privilege check.
func WithElevation(fn func() bool) Option {
	return func(r *Resolver) { r.elevated = fn }
}

// NewResolver returns a Resolver over the user and machine registries.
func NewResolver(user, machine *store.Store, clones Clones, opts ...Option) *Resolver {
	r := &Resolver{user: user, machine: machine, clones: clones, elevated: platform.IsElevated}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) storeFor(scope Scope) *store.Store {
	if scope == AllUsers {
		return r.machine
	}
	return r.user
}

func (r *Resolver) checkWrite(scope Scope) error {
	if scope == AllUsers && !r.elevated() {
		return fault.Wrap(fault.PermissionDenied, ErrElevationRequired, "")
	}
	if r.storeFor(scope) == nil {
		return fault.New(fault.PermissionDenied, "%s registry is unavailable", scope)
	}
	return nil
}

func validateYear(year int) error {
	if !host.IsSupportedYear(year) {
		return fault.Wrap(fault.Validation, ErrInvalidYear, "%d", year)
	}
	return nil
}

func yearKey(year int) string { return strconv.Itoa(year) }

func (r *Resolver) read(scope Scope, year int) (*Attachment, bool) {
	s := r.storeFor(scope)
	if s == nil {
		return nil, false
	}
	m, err := s.Map(Section, yearKey(year))
	if err != nil {
		return nil, false
	}
	return &Attachment{HostYear: year, Clone: m["clone"], Path: m["path"], Engine: m["engine"], Selector: m["selector"], Scope: scope}, true
}

func (r *Resolver) write(a *Attachment) error {
	return r.storeFor(a.Scope).SetMap(Section, yearKey(a.HostYear), map[string]string{
		"clone":    a.Clone,
		"path":     a.Path,
		"engine":   a.Engine,
		"selector": a.Selector,
	})
}

// SelectEngine picks an engine from engines by selector. An empty selector
// means latest.
func SelectEngine(engines []clone.Engine, selector string) (clone.Engine, error) {
	sel := strings.TrimSpace(selector)
	switch strings.ToLower(sel) {
	case "", SelectLatest:
		return maxEngine(engines, nil, "latest")
	case SelectDynamoSafe:
		c, err := semver.NewConstraint(DynamoSafeConstraint)
		if err != nil {
			return clone.Engine{}, fmt.Errorf("dynamosafe constraint: %w", err)
		}
		return maxEngine(engines, c, SelectDynamoSafe)
	}

	want, verr := semver.NewVersion(sel)
	for _, e := range engines {
		if strings.EqualFold(e.ID, sel) {
			return e, nil
		}
		if verr == nil && e.SemVer() != nil && e.SemVer().Equal(want) {
			return e, nil
		}
	}
	return clone.Engine{}, fault.Wrap(fault.NotFound, ErrNoEngine, "%q", sel)
}

func maxEngine(engines []clone.Engine, c *semver.Constraints, label string) (clone.Engine, error) {
	var (
		best  clone.Engine
		found bool
	)
	for _, e := range engines {
		v := e.SemVer()
		if v == nil || (c != nil && !c.Check(v)) {
			continue
		}
		if !found || v.GreaterThan(best.SemVer()) {
			best, found = e, true
		}
	}
	if !found {
		return clone.Engine{}, fault.Wrap(fault.NotFound, ErrNoEngine, "no %s engine among %d", label, len(engines))
	}
	return best, nil
}

// Attach binds year to a clone and engine in scope, replacing any existing
// binding for that year and scope.
func (r *Resolver) Attach(ctx context.Context, year int, cloneName, selector string, scope Scope) (*Resolved, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}
	if err := r.checkWrite(scope); err != nil {
		return nil, err
	}
	c, err := r.clones.Get(cloneName)
	if err != nil {
		return nil, err
	}
	engines, err := r.clones.Engines(ctx, c.Name)
	if err != nil {
		return nil, err
	}
	eng, err := SelectEngine(engines, selector)
	if err != nil {
		return nil, err
	}

	a := Attachment{HostYear: year, Clone: c.Name, Path: c.Path, Engine: eng.ID, Selector: normalizeSelector(selector, eng), Scope: scope}
	if err := r.write(&a); err != nil {
		return nil, fmt.Errorf("saving attachment: %w", err)
	}
	ctxlog.FromContext(ctx).Info("attached", "year", year, "clone", c.Name, "engine", eng.ID, "scope", scope)
	return &Resolved{Attachment: a, CloneRef: c, EngineRef: eng}, nil
}

func normalizeSelector(selector string, eng clone.Engine) string {
	switch s := strings.ToLower(strings.TrimSpace(selector)); s {
	case "", SelectLatest:
		return SelectLatest
	case SelectDynamoSafe:
		return s
	}
	return eng.ID
}

func isPolicy(selector string) bool {
	return selector == SelectLatest || selector == SelectDynamoSafe
}

// Detach removes the binding for year in scope. Detaching an unattached
// year is a no-op.
func (r *Resolver) Detach(ctx context.Context, year int, scope Scope) error {
	if _, ok := r.read(scope, year); !ok {
		return nil
	}
	if err := r.checkWrite(scope); err != nil {
		return err
	}
	if _, err := r.storeFor(scope).Delete(Section, yearKey(year)); err != nil {
		return fmt.Errorf("removing attachment: %w", err)
	}
	ctxlog.FromContext(ctx).Info("detached", "year", year, "scope", scope)
	return nil
}

// DetachAll removes every binding in scope.
func (r *Resolver) DetachAll(ctx context.Context, scope Scope) error {
	s := r.storeFor(scope)
	if s == nil || len(s.Keys(Section)) == 0 {
		return nil
	}
	if err := r.checkWrite(scope); err != nil {
		return err
	}
	keys := s.Keys(Section)
	err := s.Update(func(w *store.Writer) error {
		for _, k := range keys {
			w.Delete(Section, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing attachments: %w", err)
	}
	ctxlog.FromContext(ctx).Info("detached all", "scope", scope, "count", len(keys))
	return nil
}

func (r *Resolver) record(year int) (*Attachment, bool) {
	if a, ok := r.read(CurrentUser, year); ok {
		return a, true
	}
	return r.read(AllUsers, year)
}

// Switch re-points the binding for year at another clone. A latest or
// dynamosafe policy is re-applied to the new clone; an explicit engine is
// kept only if the new clone ships it.
func (r *Resolver) Switch(ctx context.Context, year int, cloneName string) (*Resolved, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}
	a, ok := r.record(year)
	if !ok {
		return nil, fault.Wrap(fault.NotFound, ErrNotAttached, "%d", year)
	}
	if err := r.checkWrite(a.Scope); err != nil {
		return nil, err
	}
	c, err := r.clones.Get(cloneName)
	if err != nil {
		return nil, err
	}
	engines, err := r.clones.Engines(ctx, c.Name)
	if err != nil {
		return nil, err
	}

	selector := a.Selector
	if !isPolicy(selector) {
		selector = a.Engine
	}
	eng, err := SelectEngine(engines, selector)
	if err != nil {
		if !isPolicy(selector) && errors.Is(err, ErrNoEngine) {
			return nil, fault.Wrap(fault.Validation, ErrReselectEngine, "engine %q, clone %q", a.Engine, c.Name)
		}
		return nil, err
	}

	next := Attachment{HostYear: year, Clone: c.Name, Path: c.Path, Engine: eng.ID, Selector: normalizeSelector(selector, eng), Scope: a.Scope}
	if err := r.write(&next); err != nil {
		return nil, fmt.Errorf("saving attachment: %w", err)
	}
	ctxlog.FromContext(ctx).Info("switched", "year", year, "from", a.Clone, "to", c.Name)
	return &Resolved{Attachment: next, CloneRef: c, EngineRef: eng}, nil
}

// GetAttached resolves the binding for year, checking the user scope first.
func (r *Resolver) GetAttached(ctx context.Context, year int) (*Resolved, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}
	a, ok := r.record(year)
	if !ok {
		return nil, fault.Wrap(fault.NotFound, ErrNotAttached, "%d", year)
	}
	return r.resolve(ctx, a)
}

// cloneFor finds the attachment's clone by its recorded path, falling back
// to the name for records written without one.
func (r *Resolver) cloneFor(a *Attachment) (*clone.Clone, error) {
	if a.Path != "" {
		for _, c := range r.clones.List() {
			if samePath(c.Path, a.Path) {
				return r.clones.Get(c.Name)
			}
		}
	}
	return r.clones.Get(a.Clone)
}

func (r *Resolver) resolve(ctx context.Context, a *Attachment) (*Resolved, error) {
	c, err := r.cloneFor(a)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, ErrDangling, "%d: clone %q: %v", a.HostYear, a.Clone, err)
	}
	current := *a
	current.Clone, current.Path = c.Name, c.Path
	engines, err := r.clones.Engines(ctx, c.Name)
	if err != nil {
		return nil, err
	}
	for _, e := range engines {
		if strings.EqualFold(e.ID, a.Engine) {
			return &Resolved{Attachment: current, CloneRef: c, EngineRef: e}, nil
		}
	}
	return nil, fault.Wrap(fault.Validation, ErrDangling, "%d: engine %q missing from clone %q", a.HostYear, a.Engine, c.Name)
}

// Attached lists stored bindings from both scopes, newest year first and
// user records before machine records. Records whose path matches a
// registered clone report that clone's current name.
func (r *Resolver) Attached() []Attachment {
	registered := r.clones.List()
	var out []Attachment
	for _, scope := range []Scope{CurrentUser, AllUsers} {
		s := r.storeFor(scope)
		if s == nil {
			continue
		}
		for _, k := range s.Keys(Section) {
			year, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			if a, ok := r.read(scope, year); ok {
				for _, c := range registered {
					if a.Path != "" && samePath(c.Path, a.Path) {
						a.Clone = c.Name
						break
					}
				}
				out = append(out, *a)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HostYear > out[j].HostYear
	})
	return out
}

// AttachedClone returns the bindings that reference the named clone.
func (r *Resolver) AttachedClone(name string) []Attachment {
	var out []Attachment
	for _, a := range r.Attached() {
		if strings.EqualFold(a.Clone, name) {
			out = append(out, a)
		}
	}
	return out
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if os.PathSeparator == '\\' {
		return strings.EqualFold(a, b)
	}
	return a == b
}

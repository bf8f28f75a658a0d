package attach

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/gitx/gitxtest"
	"github.com/rvtx-labs/rvtx/internal/store"
)

type fixture struct {
	res      *Resolver
	clones   *clone.Registry
	user     *store.Store
	machine  *store.Store
	elevated bool
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registry.toml"), store.ReadWrite)
	require.NoError(t, err)
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{user: openStore(t), machine: openStore(t)}
	f.clones = clone.NewRegistry(f.user, gitxtest.New())
	f.res = NewResolver(f.user, f.machine, f.clones, WithElevation(func() bool { return f.elevated }))
	return f
}

// addClone registers a clone shipping engines id -> version.
func (f *fixture) addClone(t *testing.T, name string, engines map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, clone.LayoutFile), []byte("version: 4.8.0\n"), 0644))
	for id, v := range engines {
		engDir := filepath.Join(dir, "bin", "engines", id)
		require.NoError(t, os.MkdirAll(engDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(engDir, clone.EngineFile), []byte("kind: ironpython\nversion: \""+v+"\"\n"), 0644))
	}
	_, err := f.clones.Register(context.Background(), dir, name)
	require.NoError(t, err)
	return dir
}

var standardEngines = map[string]string{
	"IPY277":  "2.7.7",
	"IPY2711": "2.7.11",
	"CPY385":  "3.8.5",
}

func TestSelectEngine(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	engines, err := f.clones.Engines(context.Background(), "dev")
	require.NoError(t, err)

	tests := []struct {
		selector string
		want     string
	}{
		{"", "CPY385"},
		{"latest", "CPY385"},
		{"DynamoSafe", "IPY277"},
		{"ipy2711", "IPY2711"},
		{"2.7.11", "IPY2711"},
	}
	for _, tt := range tests {
		got, err := SelectEngine(engines, tt.selector)
		if assert.NoError(t, err, tt.selector) {
			assert.Equal(t, tt.want, got.ID, tt.selector)
		}
	}

	_, err = SelectEngine(engines, "9.9.9")
	assert.ErrorIs(t, err, ErrNoEngine)
	_, err = SelectEngine(nil, "latest")
	assert.Equal(t, fault.NotFound, fault.KindOf(err))

	modern := engines[1:]
	_, err = SelectEngine(modern, "dynamosafe")
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestAttachLatestAndGet(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	ctx := context.Background()

	r, err := f.res.Attach(ctx, 2024, "DEV", "latest", CurrentUser)
	require.NoError(t, err)
	assert.Equal(t, "dev", r.Clone)
	assert.Equal(t, "CPY385", r.Engine)
	assert.Equal(t, SelectLatest, r.Selector)

	got, err := f.res.GetAttached(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, r.Attachment, got.Attachment)
	assert.Equal(t, "3.8.5", got.EngineRef.Version)
	assert.Empty(t, f.machine.Keys(Section))
}

func TestAttachWithoutEnginesFails(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "bare", nil)
	_, err := f.res.Attach(context.Background(), 2024, "bare", "latest", CurrentUser)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
	assert.Empty(t, f.res.Attached())
}

func TestAttachOverwritesSameScope(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	f.addClone(t, "stable", map[string]string{"IPY277": "2.7.7"})
	ctx := context.Background()

	_, err := f.res.Attach(ctx, 2023, "dev", "", CurrentUser)
	require.NoError(t, err)
	_, err = f.res.Attach(ctx, 2023, "stable", "ipy277", CurrentUser)
	require.NoError(t, err)

	stable, err := f.clones.Get("stable")
	require.NoError(t, err)
	all := f.res.Attached()
	require.Len(t, all, 1)
	assert.Equal(t, Attachment{HostYear: 2023, Clone: "stable", Path: stable.Path, Engine: "IPY277", Selector: "IPY277", Scope: CurrentUser}, all[0])
}

func TestAttachErrors(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	ctx := context.Background()

	_, err := f.res.Attach(ctx, 1999, "dev", "latest", CurrentUser)
	assert.ErrorIs(t, err, ErrInvalidYear)
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = f.res.Attach(ctx, 2024, "ghost", "latest", CurrentUser)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))

	_, err = f.res.Attach(ctx, 2024, "dev", "latest", AllUsers)
	assert.ErrorIs(t, err, ErrElevationRequired)
	assert.Equal(t, fault.PermissionDenied, fault.KindOf(err))
	assert.Empty(t, f.machine.Keys(Section), "scope must not silently narrow")
	assert.Empty(t, f.user.Keys(Section))
}

func TestAllUsersScope(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	ctx := context.Background()
	f.elevated = true

	_, err := f.res.Attach(ctx, 2022, "dev", "dynamosafe", AllUsers)
	require.NoError(t, err)
	assert.Equal(t, []string{"2022"}, f.machine.Keys(Section))

	got, err := f.res.GetAttached(ctx, 2022)
	require.NoError(t, err)
	assert.Equal(t, AllUsers, got.Scope)
	assert.Equal(t, "IPY277", got.Engine)

	_, err = f.res.Attach(ctx, 2022, "dev", "latest", CurrentUser)
	require.NoError(t, err)
	got, err = f.res.GetAttached(ctx, 2022)
	require.NoError(t, err)
	assert.Equal(t, CurrentUser, got.Scope, "user scope wins")

	f.elevated = false
	assert.Equal(t, fault.PermissionDenied, fault.KindOf(f.res.Detach(ctx, 2022, AllUsers)))
	f.elevated = true
	require.NoError(t, f.res.Detach(ctx, 2022, AllUsers))
	assert.Empty(t, f.machine.Keys(Section))
}

func TestDetachMissingIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.NoError(t, f.res.Detach(ctx, 2024, CurrentUser))
	assert.NoError(t, f.res.Detach(ctx, 2024, AllUsers), "no privilege needed when nothing to remove")
	assert.NoError(t, f.res.DetachAll(ctx, AllUsers))
}

func TestDetachAll(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	ctx := context.Background()
	for _, y := range []int{2021, 2022, 2023} {
		_, err := f.res.Attach(ctx, y, "dev", "latest", CurrentUser)
		require.NoError(t, err)
	}
	require.NoError(t, f.res.Detach(ctx, 2022, CurrentUser))
	assert.Len(t, f.res.Attached(), 2)

	require.NoError(t, f.res.DetachAll(ctx, CurrentUser))
	assert.Empty(t, f.res.Attached())
	_, err := f.res.GetAttached(ctx, 2023)
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestGetAttachedDistinguishesErrors(t *testing.T) {
	f := newFixture(t)
	dir := f.addClone(t, "dev", standardEngines)
	ctx := context.Background()

	_, err := f.res.GetAttached(ctx, 2024)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
	_, err = f.res.GetAttached(ctx, 1990)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidYear)

	_, err = f.res.Attach(ctx, 2024, "dev", "ipy2711", CurrentUser)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "bin", "engines", "IPY2711")))
	_, err = f.res.GetAttached(ctx, 2024)
	assert.ErrorIs(t, err, ErrDangling)

	require.NoError(t, os.RemoveAll(dir))
	_, err = f.res.GetAttached(ctx, 2024)
	assert.ErrorIs(t, err, ErrDangling)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func TestSwitch(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	f.addClone(t, "legacy", map[string]string{"IPY277": "2.7.7", "IPY279": "2.7.9"})
	f.addClone(t, "py3", map[string]string{"CPY385": "3.8.5"})
	ctx := context.Background()

	_, err := f.res.Switch(ctx, 2024, "legacy")
	assert.ErrorIs(t, err, ErrNotAttached)

	_, err = f.res.Attach(ctx, 2024, "dev", "latest", CurrentUser)
	require.NoError(t, err)
	r, err := f.res.Switch(ctx, 2024, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "IPY279", r.Engine, "latest policy re-applied")
	assert.Equal(t, SelectLatest, r.Selector)

	_, err = f.res.Attach(ctx, 2023, "dev", "IPY277", CurrentUser)
	require.NoError(t, err)
	r, err = f.res.Switch(ctx, 2023, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "IPY277", r.Engine, "explicit engine kept")

	_, err = f.res.Switch(ctx, 2023, "py3")
	assert.ErrorIs(t, err, ErrReselectEngine)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
	got, err := f.res.GetAttached(ctx, 2023)
	require.NoError(t, err)
	assert.Equal(t, "legacy", got.Clone, "failed switch leaves the binding alone")

	assert.Len(t, f.res.AttachedClone("LEGACY"), 2)
}

func TestRenameKeepsAttachment(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	ctx := context.Background()

	before, err := f.res.Attach(ctx, 2024, "dev", "latest", CurrentUser)
	require.NoError(t, err)
	require.NoError(t, f.clones.Rename("dev", "stable"))

	got, err := f.res.GetAttached(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, "stable", got.Clone)
	assert.Equal(t, before.Path, got.Path)
	assert.Equal(t, "CPY385", got.EngineRef.ID)

	all := f.res.Attached()
	require.Len(t, all, 1)
	assert.Equal(t, "stable", all[0].Clone)
	assert.Len(t, f.res.AttachedClone("stable"), 1)
	assert.Empty(t, f.res.AttachedClone("dev"))

	r, err := f.res.Switch(ctx, 2024, "stable")
	require.NoError(t, err)
	assert.Equal(t, "stable", r.Clone)
}

func TestAllUsersAttachmentResolvesByPath(t *testing.T) {
	f := newFixture(t)
	f.elevated = true
	dir := f.addClone(t, "dev", standardEngines)
	ctx := context.Background()

	_, err := f.res.Attach(ctx, 2025, "dev", "IPY277", AllUsers)
	require.NoError(t, err)

	// Another account registered the same tree under its own name.
	other := openStore(t)
	otherClones := clone.NewRegistry(other, gitxtest.New())
	_, err = otherClones.Register(ctx, dir, "shared")
	require.NoError(t, err)
	res := NewResolver(other, f.machine, otherClones)

	got, err := res.GetAttached(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Clone)
	assert.Equal(t, AllUsers, got.Scope)
	assert.Equal(t, "IPY277", got.EngineRef.ID)
}

func TestLegacyRecordResolvesByName(t *testing.T) {
	f := newFixture(t)
	f.addClone(t, "dev", standardEngines)
	require.NoError(t, f.user.SetMap(Section, "2024", map[string]string{
		"clone": "dev", "engine": "IPY2711", "selector": "IPY2711",
	}))

	got, err := f.res.GetAttached(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, "dev", got.Clone)
	assert.NotEmpty(t, got.Path)
}

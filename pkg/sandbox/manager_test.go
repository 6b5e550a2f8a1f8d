package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/config"
)

// fakeController is an in-memory Controller double.
type fakeController struct {
	mu        sync.Mutex
	groups    []Group
	profiles  map[string]bool
	started   map[string]bool
	nextID    atomic.Int64
	createErr error
	startErr  error
}

func newFakeController() *fakeController {
	return &fakeController{
		profiles: make(map[string]bool),
		started:  make(map[string]bool),
	}
}

func (f *fakeController) Status(ctx context.Context) error { return nil }

func (f *fakeController) ListGroups(ctx context.Context) ([]Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Group(nil), f.groups...), nil
}

func (f *fakeController) CreateGroup(ctx context.Context, name string) (Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := Group{ID: fmt.Sprintf("group-%d", len(f.groups)+1), Name: name}
	f.groups = append(f.groups, g)
	return g, nil
}

func (f *fakeController) CreateProfile(ctx context.Context, req *CreateProfileRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("profile-%d", f.nextID.Add(1))
	f.mu.Lock()
	f.profiles[id] = true
	f.mu.Unlock()
	return id, nil
}

func (f *fakeController) DeleteProfile(ctx context.Context, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, profileID)
	return nil
}

func (f *fakeController) StartBrowser(ctx context.Context, profileID string) (*BrowserHandle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	f.started[profileID] = true
	f.mu.Unlock()
	// Endpoint is unreachable; positioning fails and is logged, never fatal.
	return &BrowserHandle{WSEndpoint: "ws://127.0.0.1:1/devtools/browser/" + profileID}, nil
}

func (f *fakeController) StopBrowser(ctx context.Context, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, profileID)
	return nil
}

func testSandboxConfig(maxConcurrency int) *config.SandboxConfig {
	cfg := config.DefaultSandboxConfig()
	cfg.MaxConcurrency = maxConcurrency
	cfg.BatchID = "batch-test"
	return cfg
}

func TestManager_AcquireRelease_Balanced(t *testing.T) {
	ctrl := newFakeController()
	m, err := NewManager(testSandboxConfig(2), ctrl, t.TempDir())
	require.NoError(t, err)

	lease, err := m.Acquire(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.NotEmpty(t, lease.Profile.ProfileID)
	assert.NotEmpty(t, lease.Profile.WSEndpoint)
	assert.GreaterOrEqual(t, lease.Profile.TileIndex, 0)

	lease.Release(context.Background())
	lease.Release(context.Background()) // idempotent

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Acquired)
	assert.Equal(t, int64(1), stats.Released)
	assert.Equal(t, int64(0), stats.InFlight)

	// Teardown stopped the browser and deleted the profile.
	ctrl.mu.Lock()
	assert.Empty(t, ctrl.started)
	assert.Empty(t, ctrl.profiles)
	ctrl.mu.Unlock()
}

func TestManager_ConcurrencyCap(t *testing.T) {
	ctrl := newFakeController()
	m, err := NewManager(testSandboxConfig(2), ctrl, t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	lease1, err := m.Acquire(ctx, "exec-1")
	require.NoError(t, err)
	lease2, err := m.Acquire(ctx, "exec-2")
	require.NoError(t, err)

	// The third acquire blocks until a slot frees.
	acquired := make(chan *Lease, 1)
	go func() {
		lease3, err := m.Acquire(ctx, "exec-3")
		assert.NoError(t, err)
		acquired <- lease3
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while both slots are held")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, int64(2), m.Stats().InFlight)

	lease1.Release(ctx)
	var lease3 *Lease
	select {
	case lease3 = <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("third acquire did not proceed after a release")
	}

	lease2.Release(ctx)
	lease3.Release(ctx)

	stats := m.Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestManager_ProvisionFailureReleasesSlot(t *testing.T) {
	ctrl := newFakeController()
	ctrl.createErr = fmt.Errorf("controller down")
	m, err := NewManager(testSandboxConfig(1), ctrl, t.TempDir())
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "exec-1")
	require.Error(t, err)

	// The slot came back: a second acquire does not block.
	ctrl.createErr = nil
	lease, err := m.Acquire(context.Background(), "exec-2")
	require.NoError(t, err)
	lease.Release(context.Background())

	stats := m.Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
}

func TestManager_ForceSandboxOnlyWithoutController(t *testing.T) {
	cfg := testSandboxConfig(1)
	cfg.ForceSandboxOnly = true
	m, err := NewManager(cfg, nil, t.TempDir())
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "exec-1")
	require.Error(t, err)
	assert.True(t, agent.IsClass(err, agent.ClassConfiguration))
	assert.Contains(t, err.Error(), "FORCE_ADSPOWER_ONLY")

	// The failed acquire still balanced the semaphore.
	stats := m.Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
}

func TestManager_NoControllerFallsBackHeadless(t *testing.T) {
	m, err := NewManager(testSandboxConfig(1), nil, t.TempDir())
	require.NoError(t, err)

	lease, err := m.Acquire(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, lease.Profile.Headless)
	assert.Empty(t, lease.Profile.ProfileID)
	lease.Release(context.Background())
}

func TestManager_GroupReusedWithinBatch(t *testing.T) {
	ctrl := newFakeController()
	workspace := t.TempDir()
	m, err := NewManager(testSandboxConfig(2), ctrl, workspace)
	require.NoError(t, err)

	ctx := context.Background()
	lease1, err := m.Acquire(ctx, "exec-1")
	require.NoError(t, err)
	lease2, err := m.Acquire(ctx, "exec-2")
	require.NoError(t, err)
	assert.Equal(t, lease1.Profile.GroupID, lease2.Profile.GroupID)
	lease1.Release(ctx)
	lease2.Release(ctx)

	ctrl.mu.Lock()
	assert.Len(t, ctrl.groups, 1, "one group per batch")
	ctrl.mu.Unlock()

	// A new manager for the same batch finds the group in the cache file.
	m2, err := NewManager(testSandboxConfig(1), ctrl, workspace)
	require.NoError(t, err)
	lease3, err := m2.Acquire(ctx, "exec-3")
	require.NoError(t, err)
	assert.Equal(t, lease1.Profile.GroupID, lease3.Profile.GroupID)
	lease3.Release(ctx)

	ctrl.mu.Lock()
	assert.Len(t, ctrl.groups, 1)
	ctrl.mu.Unlock()
}

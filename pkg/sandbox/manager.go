package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/config"
	"github.com/testrig-ai/testrig/pkg/models"
)

// Lease is one held browser slot. Release is idempotent and must be called
// on every exit path; the manager's invariant is acquires == releases.
type Lease struct {
	Profile models.BrowserProfile

	manager     *Manager
	releaseOnce sync.Once
}

// Release tears the lease down: stop the browser, delete the profile when
// configured, free the tile, return the semaphore slot. Safe to call more
// than once; only the first call does work.
func (l *Lease) Release(ctx context.Context) {
	l.releaseOnce.Do(func() { l.manager.teardown(ctx, l) })
}

// Manager gates UI executions behind a process-wide slot semaphore and
// hands out fingerprint-isolated browser profiles placed on a screen grid.
type Manager struct {
	cfg        *config.SandboxConfig
	controller Controller // nil when no controller is configured
	sem        *semaphore.Weighted
	grid       *Grid
	groups     *GroupCache
	batchID    string
	logger     *slog.Logger

	acquired atomic.Int64
	released atomic.Int64
	inFlight atomic.Int64
}

// NewManager builds a sandbox manager. controller may be nil (no configured
// BaseURL); UI executions then fall back to a plain local headless browser
// unless ForceSandboxOnly demands the controller.
func NewManager(cfg *config.SandboxConfig, controller Controller, workspace string) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultSandboxConfig()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 15
	}
	grid, err := NewGrid(cfg.GridCols, cfg.GridRows, cfg.ScreenRes, cfg.TileIndex)
	if err != nil {
		return nil, err
	}
	batchID := cfg.BatchID
	if batchID == "" {
		batchID = "batch-" + uuid.New().String()[:8]
	}
	m := &Manager{
		cfg:        cfg,
		controller: controller,
		sem:        semaphore.NewWeighted(int64(maxConcurrency)),
		grid:       grid,
		groups:     NewGroupCache(workspace),
		batchID:    batchID,
		logger:     slog.Default().With("component", "sandbox-manager"),
	}
	m.logger.Info("Sandbox manager ready",
		"max_concurrency", maxConcurrency,
		"grid", fmt.Sprintf("%dx%d", cfg.GridCols, cfg.GridRows),
		"controller", controller != nil,
		"batch_id", batchID)
	return m, nil
}

// BatchID returns this process's batch correlation id.
func (m *Manager) BatchID() string { return m.batchID }

// Acquire blocks for a concurrency slot, then provisions a browser profile.
// The wait has no internal timeout: callers bound it through ctx. On any
// failure after the slot is taken, the slot and every partially provisioned
// resource are torn down before the error returns.
func (m *Manager) Acquire(ctx context.Context, executionID string) (*Lease, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, agent.NewError(agent.ClassResourceExhaustion,
			fmt.Errorf("waiting for browser slot: %w", err))
	}
	m.acquired.Add(1)
	m.inFlight.Add(1)

	lease, err := m.provision(ctx, executionID)
	if err != nil {
		// The slot is held; hand it back through the one teardown path.
		if lease == nil {
			lease = &Lease{manager: m}
		}
		lease.Release(ctx)
		return nil, err
	}
	return lease, nil
}

// provision builds the lease behind an already-held slot.
func (m *Manager) provision(ctx context.Context, executionID string) (*Lease, error) {
	if m.controller == nil {
		if m.cfg.ForceSandboxOnly {
			return nil, agent.Errorf(agent.ClassConfiguration,
				"FORCE_ADSPOWER_ONLY is set but no sandbox controller is configured")
		}
		m.logger.Warn("No sandbox controller; using local headless browser",
			"execution_id", executionID)
		return &Lease{
			manager: m,
			Profile: models.BrowserProfile{TileIndex: -1, Headless: true},
		}, nil
	}

	lease := &Lease{manager: m}
	lease.Profile.TileIndex, lease.Profile.Bounds = m.grid.Acquire()

	groupID, err := m.ensureGroup(ctx)
	if err != nil {
		if m.cfg.ForceSandboxOnly {
			return lease, agent.NewError(agent.ClassConfiguration,
				fmt.Errorf("sandbox controller unavailable: %w", err))
		}
		m.logger.Warn("Sandbox controller unavailable; using local headless browser",
			"execution_id", executionID, "error", err)
		m.grid.Release(lease.Profile.TileIndex)
		lease.Profile = models.BrowserProfile{TileIndex: -1, Headless: true}
		return lease, nil
	}
	lease.Profile.GroupID = groupID

	profileID, err := m.controller.CreateProfile(ctx, &CreateProfileRequest{
		Name:              "testrig-" + executionID,
		GroupID:           groupID,
		FingerprintConfig: NewFingerprint("", nil),
	})
	if err != nil {
		return lease, agent.NewError(agent.ClassTransient, fmt.Errorf("create profile: %w", err))
	}
	lease.Profile.ProfileID = profileID

	handle, err := m.controller.StartBrowser(ctx, profileID)
	if err != nil {
		return lease, agent.NewError(agent.ClassTransient, fmt.Errorf("start browser: %w", err))
	}
	lease.Profile.WSEndpoint = handle.WSEndpoint

	if lease.Profile.TileIndex >= 0 {
		posCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := PositionWindow(posCtx, handle.WSEndpoint, lease.Profile.Bounds); err != nil {
			m.logger.Warn("Window positioning failed; continuing unpositioned",
				"execution_id", executionID,
				"tile", lease.Profile.TileIndex,
				"error", err)
		}
		cancel()
	}

	m.logger.Info("Browser profile acquired",
		"execution_id", executionID,
		"profile_id", profileID,
		"tile", lease.Profile.TileIndex)
	return lease, nil
}

// ensureGroup resolves the controller group for this batch: cache, then
// controller list, then create.
func (m *Manager) ensureGroup(ctx context.Context) (string, error) {
	if id, ok := m.groups.Get(m.batchID); ok {
		return id, nil
	}

	groups, err := m.controller.ListGroups(ctx)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.Name == m.batchID {
			m.cacheGroup(g.ID)
			return g.ID, nil
		}
	}

	group, err := m.controller.CreateGroup(ctx, m.batchID)
	if err != nil {
		return "", err
	}
	m.cacheGroup(group.ID)
	return group.ID, nil
}

func (m *Manager) cacheGroup(groupID string) {
	if err := m.groups.Put(m.batchID, groupID); err != nil {
		m.logger.Warn("Group cache write failed", "error", err)
	}
}

// teardown releases everything a lease holds. Runs exactly once per lease;
// the semaphore slot is returned last, after the browser and profile are
// gone, so a freed slot never races a still-running browser on the tile.
func (m *Manager) teardown(ctx context.Context, l *Lease) {
	// Teardown must finish even when the execution context is already
	// cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if l.Profile.ProfileID != "" && m.controller != nil {
		if err := m.controller.StopBrowser(cleanupCtx, l.Profile.ProfileID); err != nil {
			m.logger.Warn("Browser stop failed", "profile_id", l.Profile.ProfileID, "error", err)
		}
		if m.cfg.DeleteProfileOnExit {
			if err := m.controller.DeleteProfile(cleanupCtx, l.Profile.ProfileID); err != nil {
				m.logger.Warn("Profile delete failed", "profile_id", l.Profile.ProfileID, "error", err)
			}
		}
	}
	m.grid.Release(l.Profile.TileIndex)
	m.sem.Release(1)
	m.released.Add(1)
	m.inFlight.Add(-1)
}

// Stats reports slot accounting for health endpoints and invariant checks.
type Stats struct {
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
	InFlight int64 `json:"in_flight"`
}

// Stats returns a snapshot.
func (m *Manager) Stats() Stats {
	return Stats{
		Acquired: m.acquired.Load(),
		Released: m.released.Load(),
		InFlight: m.inFlight.Load(),
	}
}

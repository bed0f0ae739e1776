package admin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var ErrWorkspaceClosed = errors.New("workspace closed")

const defaultIdleTimeout = 2 * time.Hour

// Manager owns the workspaces of signed-in admins and evicts the idle ones.
type Manager struct {
	deps   Deps
	idle   time.Duration
	cron   *cron.Cron
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
	running    bool
}

func NewManager(deps Deps, idle time.Duration) *Manager {
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Manager{
		deps:       deps,
		idle:       idle,
		cron:       cron.New(),
		logger:     deps.Logger.With().Str("component", "workspaces").Logger(),
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace of user, creating it on first use.
func (m *Manager) Get(user string) *Workspace {
	now := m.now()
	m.mu.Lock()
	w, ok := m.workspaces[user]
	if !ok {
		w = newWorkspace(user, m.deps, now)
		m.workspaces[user] = w
		m.updateGauge()
	}
	m.mu.Unlock()

	if ok {
		w.touch(now)
	}
	return w
}

// Len reports how many workspaces are held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Evict closes the workspace of user, if any.
func (m *Manager) Evict(user string) {
	m.mu.Lock()
	w, ok := m.workspaces[user]
	delete(m.workspaces, user)
	m.updateGauge()
	m.mu.Unlock()

	if ok {
		w.Close()
		m.logger.Debug().Str("user_id", user).Msg("workspace evicted")
	}
}

// EvictIdle closes every workspace unused for longer than the idle timeout.
func (m *Manager) EvictIdle() int {
	cutoff := m.now().Add(-m.idle)
	var stale []*Workspace

	m.mu.Lock()
	for user, w := range m.workspaces {
		if w.idleSince().Before(cutoff) {
			stale = append(stale, w)
			delete(m.workspaces, user)
		}
	}
	m.updateGauge()
	m.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	if len(stale) > 0 {
		m.logger.Info().Int("evicted", len(stale)).Msg("idle workspaces evicted")
	}
	return len(stale)
}

func (m *Manager) updateGauge() {
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveWorkspaces.Set(float64(len(m.workspaces)))
	}
}

// Start schedules idle eviction every minute.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("workspace manager already running")
	}
	if _, err := m.cron.AddFunc("@every 1m", func() { m.EvictIdle() }); err != nil {
		return err
	}
	m.cron.Start()
	m.running = true
	m.logger.Info().Dur("idle_timeout", m.idle).Msg("workspace eviction started")
	return nil
}

// Stop halts eviction and closes every workspace.
func (m *Manager) Stop() context.Context {
	m.mu.Lock()
	var ctx context.Context
	if m.running {
		m.running = false
		ctx = m.cron.Stop()
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		cancel()
	}
	all := m.workspaces
	m.workspaces = make(map[string]*Workspace)
	m.updateGauge()
	m.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
	return ctx
}

// Package scheduler owns the per-account sync jobs: session-scoped periodic
// timers, a re-entrancy guard per account, and the process-wide background
// pass. All job state is private to the Manager; callers go through its API.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/engine"
)

const (
	logRetention = 30 * 24 * time.Hour
	cleanupEvery = 24 * time.Hour
)

// CycleRunner executes one sync cycle. *engine.Engine implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context, conn *db.Connection, opts engine.CycleOptions) *engine.CycleResult
}

// Config bounds the manager's timers. Zero fields take defaults.
type Config struct {
	MinInterval     time.Duration // lower clamp for per-connection intervals
	MaxInterval     time.Duration // upper clamp for per-connection intervals
	DefaultInterval time.Duration // used when a connection has no interval
	BackgroundEvery time.Duration // cadence of the background pass
	CycleTimeout    time.Duration // deadline for a single cycle
}

func (c *Config) applyDefaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 30 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Hour
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 5 * time.Minute
	}
	if c.BackgroundEvery <= 0 {
		c.BackgroundEvery = 15 * time.Minute
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 10 * time.Minute
	}
}

// job is the runtime state for one account. Guarded by Manager.mu.
type job struct {
	accountID string
	sessions  int
	interval  time.Duration
	autoSync  bool
	ticker    *time.Ticker
	stopCh    chan struct{}
}

// Manager schedules sync cycles per account.
type Manager struct {
	store  *db.DB
	runner CycleRunner
	cfg    Config

	mu          sync.Mutex
	jobs        map[string]*job
	running     map[string]bool
	queuedForce map[string]engine.CycleOptions
	started     bool
	stopped     bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
}

// New creates a manager. The runner is typically *engine.Engine.
func New(store *db.DB, runner CycleRunner, cfg Config) *Manager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:       store,
		runner:      runner,
		cfg:         cfg,
		jobs:        make(map[string]*job),
		running:     make(map[string]bool),
		queuedForce: make(map[string]engine.CycleOptions),
		ctx:         ctx,
		cancel:      cancel,
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cfg.BackgroundEvery), m.backgroundPass); err != nil {
		log.Printf("Failed to schedule background pass: %v", err)
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cleanupEvery), m.cleanupOldLogs); err != nil {
		log.Printf("Failed to schedule log cleanup: %v", err)
	}

	return m
}

// Start attaches a base session for every auto-sync connection and begins
// the background schedule. The daemon's own session keeps those accounts
// cycling even when no client is attached.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	conns, err := m.store.GetAutoSyncConnections()
	if err != nil {
		return fmt.Errorf("failed to load auto-sync connections: %w", err)
	}
	for _, conn := range conns {
		m.AttachSession(conn)
	}

	m.cron.Start()
	log.Printf("Sync manager started with %d jobs", len(conns))
	return nil
}

// Stop halts all scheduling and waits for in-flight cycles to complete
// naturally. Cycles run on detached contexts, so none is aborted here.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for _, j := range m.jobs {
		m.stopTickerLocked(j)
	}
	m.jobs = make(map[string]*job)
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	m.cancel()
	m.wg.Wait()
	log.Println("Sync manager stopped")
}

// AttachSession records a client session against a connection's account.
// The first session creates the job and runs an immediate cycle; the
// periodic ticker starts only while auto-sync is enabled.
func (m *Manager) AttachSession(conn *db.Connection) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	j, exists := m.jobs[conn.AccountID]
	if !exists {
		j = &job{
			accountID: conn.AccountID,
			interval:  m.clampInterval(conn.SyncInterval),
			autoSync:  conn.AutoSync,
		}
		m.jobs[conn.AccountID] = j
	}
	j.sessions++
	if j.sessions >= 1 && j.autoSync && j.ticker == nil {
		m.startTickerLocked(j)
	}
	m.mu.Unlock()

	if !exists {
		log.Printf("Attached first session for account %s (interval %v, auto-sync %v)",
			conn.AccountID, j.interval, j.autoSync)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.execute(conn.AccountID, engine.CycleOptions{IsBackgroundSync: true})
		}()
	}
}

// DetachSession drops one session; the last one stops the ticker and
// removes the job.
func (m *Manager) DetachSession(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[accountID]
	if !exists {
		return
	}
	j.sessions--
	if j.sessions > 0 {
		return
	}
	m.stopTickerLocked(j)
	delete(m.jobs, accountID)
	log.Printf("Detached last session for account %s", accountID)
}

// UpdateJob applies changed connection settings to a live job.
func (m *Manager) UpdateJob(conn *db.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[conn.AccountID]
	if !exists {
		return
	}
	j.interval = m.clampInterval(conn.SyncInterval)
	j.autoSync = conn.AutoSync

	m.stopTickerLocked(j)
	if j.sessions >= 1 && j.autoSync {
		m.startTickerLocked(j)
	}
	log.Printf("Updated job for account %s (interval %v, auto-sync %v)", conn.AccountID, j.interval, j.autoSync)
}

// TriggerSync runs a cycle for an account right now, subject to the
// re-entrancy guard, and returns its result.
func (m *Manager) TriggerSync(accountID string, opts engine.CycleOptions) *engine.CycleResult {
	return m.execute(accountID, opts)
}

// JobCount returns the number of accounts with at least one session.
func (m *Manager) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// HasJob reports whether a job exists for the account.
func (m *Manager) HasJob(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[accountID]
	return ok
}

// IsRunning reports whether a cycle for the account is in flight.
func (m *Manager) IsRunning(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[accountID]
}

// execute applies the per-account guard and runs one cycle. A second
// non-forced request while a cycle is in flight reports success without
// doing anything; a forced request parks in a single queue slot and runs
// when the in-flight cycle finishes.
func (m *Manager) execute(accountID string, opts engine.CycleOptions) *engine.CycleResult {
	m.mu.Lock()
	if m.running[accountID] {
		if !opts.ForceRefresh {
			m.mu.Unlock()
			log.Printf("Skipping sync for account %s - another sync is already in progress", accountID)
			return &engine.CycleResult{Success: true, Message: "sync already in progress"}
		}
		if _, queued := m.queuedForce[accountID]; queued {
			m.mu.Unlock()
			return &engine.CycleResult{Success: true, Message: "forced sync already queued"}
		}
		m.queuedForce[accountID] = opts
		m.mu.Unlock()
		log.Printf("Queued forced sync for account %s behind the running cycle", accountID)
		return &engine.CycleResult{Success: true, Message: "forced sync queued behind the running cycle"}
	}
	m.running[accountID] = true
	m.mu.Unlock()

	result := m.runConnectionCycle(accountID, opts)

	m.mu.Lock()
	delete(m.running, accountID)
	queued, hasQueued := m.queuedForce[accountID]
	if hasQueued {
		delete(m.queuedForce, accountID)
	}
	launch := hasQueued && !m.stopped
	m.mu.Unlock()

	if launch {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.execute(accountID, queued)
		}()
	}
	return result
}

// runConnectionCycle loads the connection and runs the engine under the
// cycle deadline. The context is detached from the manager's lifecycle so
// Stop never aborts an in-flight cycle.
func (m *Manager) runConnectionCycle(accountID string, opts engine.CycleOptions) *engine.CycleResult {
	conn, err := m.store.GetConnectionByAccount(accountID)
	if err != nil {
		log.Printf("Failed to load connection for account %s: %v", accountID, err)
		return &engine.CycleResult{Success: false, Message: "connection not found"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CycleTimeout)
	defer cancel()

	result := m.runner.RunCycle(ctx, conn, opts)
	if result.Success {
		log.Printf("Sync completed for %s: %s", conn.Name, result.Message)
	} else {
		log.Printf("Sync failed for %s: %s", conn.Name, result.Message)
	}
	return result
}

// backgroundPass prunes zero-session jobs and cycles every account that
// still has a session, keeping background load bounded to active accounts.
func (m *Manager) backgroundPass() {
	m.mu.Lock()
	accounts := make([]string, 0, len(m.jobs))
	for id, j := range m.jobs {
		if j.sessions <= 0 {
			m.stopTickerLocked(j)
			delete(m.jobs, id)
			log.Printf("Pruned idle job for account %s", id)
			continue
		}
		accounts = append(accounts, id)
	}
	m.mu.Unlock()

	for _, id := range accounts {
		m.execute(id, engine.CycleOptions{IsBackgroundSync: true})
	}
}

// startTickerLocked begins the periodic loop for a job. Callers hold mu.
func (m *Manager) startTickerLocked(j *job) {
	j.ticker = time.NewTicker(j.interval)
	j.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.runJob(j.accountID, j.ticker, j.stopCh)
}

// stopTickerLocked halts a job's periodic loop. Callers hold mu.
func (m *Manager) stopTickerLocked(j *job) {
	if j.ticker == nil {
		return
	}
	j.ticker.Stop()
	close(j.stopCh)
	j.ticker = nil
	j.stopCh = nil
}

// runJob is one account's ticker loop.
func (m *Manager) runJob(accountID string, ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.execute(accountID, engine.CycleOptions{IsBackgroundSync: true})
		}
	}
}

// clampInterval turns a connection's interval (seconds) into a duration
// within the configured bounds.
func (m *Manager) clampInterval(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	switch {
	case d <= 0:
		return m.cfg.DefaultInterval
	case d < m.cfg.MinInterval:
		return m.cfg.MinInterval
	case d > m.cfg.MaxInterval:
		return m.cfg.MaxInterval
	}
	return d
}

// cleanupOldLogs drops sync log rows past the retention window.
func (m *Manager) cleanupOldLogs() {
	cutoff := time.Now().Add(-logRetention)
	deleted, err := m.store.CleanOldSyncLogs(cutoff)
	if err != nil {
		log.Printf("Failed to clean old sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Cleaned %d old sync logs", deleted)
	}
}

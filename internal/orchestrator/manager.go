package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/prospector/internal/models"
)

// ErrCampaignNotFound is returned for unknown campaign ids
var ErrCampaignNotFound = errors.New("campaign not found")

type loopHandle struct {
	wake chan struct{}
}

// Manager keeps one loop running per campaign in Running status
type Manager struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*loopHandle
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new manager
func NewManager(deps Deps, cfg Config, logger *slog.Logger) *Manager {
	deps.setDefaults()
	cfg.setDefaults()
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
		running: make(map[string]*loopHandle),
	}
}

// Start resets links left in processing by a previous process, resumes
// every running campaign and keeps polling for campaigns started elsewhere.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.deps.Links.ResetProcessing(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset processing links: %w", err)
	}
	if n > 0 {
		m.logger.Warn("reset links left in processing", "count", n)
	}

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.Reconcile(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.poll()

	m.logger.Info("orchestrator started", "poll_interval", m.cfg.PollInterval)
	return nil
}

func (m *Manager) poll() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(m.ctx); err != nil && m.ctx.Err() == nil {
				m.logger.Error("failed to reconcile campaigns", "error", err)
			}
		}
	}
}

// Reconcile launches a loop for every running campaign that has none
func (m *Manager) Reconcile(ctx context.Context) error {
	campaigns, err := m.deps.Campaigns.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active campaigns: %w", err)
	}
	for i := range campaigns {
		m.launch(campaigns[i].ID)
	}
	return nil
}

// StartCampaign marks the campaign running and launches its loop. Starting a
// running campaign is a no-op.
func (m *Manager) StartCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := m.deps.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}

	if !c.Running() {
		running := models.CampaignRunning
		if err := m.deps.Campaigns.AppendLog(ctx, id, "-> Campanha iniciada.", &running); err != nil {
			return nil, err
		}
		c.Status = running
		m.logger.Info("campaign started", "campaign_id", id)
	}

	m.launch(id)
	return c, nil
}

// StopCampaign pauses the campaign. The loop notices on its next cycle,
// after the link in progress is finished.
func (m *Manager) StopCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := m.deps.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	if !c.Running() {
		return c, nil
	}

	paused := models.CampaignPaused
	if err := m.deps.Campaigns.AppendLog(ctx, id, "-> Campanha pausada pelo operador.", &paused); err != nil {
		return nil, err
	}
	c.Status = paused
	m.logger.Info("campaign stopped", "campaign_id", id)

	m.mu.Lock()
	if h, ok := m.running[id]; ok {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
	m.mu.Unlock()

	return c, nil
}

// Running reports whether a loop is active for the campaign in this process
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

func (m *Manager) launch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.ctx == nil {
		return
	}
	if _, ok := m.running[id]; ok {
		return
	}

	h := &loopHandle{wake: make(chan struct{}, 1)}
	m.running[id] = h
	m.deps.Observer.ActiveCampaigns(len(m.running))

	l := newLoop(id, &m.deps, m.cfg, h.wake, m.logger)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.remove(id)
		l.run(m.ctx)
	}()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
	m.deps.Observer.ActiveCampaigns(len(m.running))
}

// Stop cancels every loop and waits for them to return. Campaign statuses
// are left untouched so the next process resumes them.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	m.logger.Info("stopping orchestrator")
	cancel()
	m.wg.Wait()
	m.logger.Info("orchestrator stopped")
}

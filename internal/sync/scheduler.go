package sync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// SchedulerStats tracks scheduler activity
type SchedulerStats struct {
	Running        bool       `json:"running"`
	TicksCompleted int64      `json:"ticks_completed"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	EntriesDrained int64      `json:"entries_drained"`
	RecordsPulled  int64      `json:"records_pulled"`
}

// Scheduler runs the periodic sync loop: every poll interval it drains the
// outbox, and when auto sync is on it also bulk-pulls every enabled object.
type Scheduler struct {
	storage storage.Storage
	outbox  *Outbox
	inbound *Inbound
	logger  *logrus.Logger

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	stats    SchedulerStats
}

// NewScheduler creates the periodic sync scheduler
func NewScheduler(store storage.Storage, outbox *Outbox, inbound *Inbound) *Scheduler {
	return &Scheduler{
		storage: store,
		outbox:  outbox,
		inbound: inbound,
		logger:  utils.GetLogger(),
	}
}

// Start begins the periodic loop. The poll interval is re-read from the
// persisted sync config on every tick, so config updates take effect without
// a restart.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running", "")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Sync scheduler started")
	return nil
}

// Stop halts the periodic loop
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Sync scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns a snapshot of scheduler activity
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.Running = s.running
	return stats
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		interval := s.pollInterval(ctx)
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	cfg, err := s.storage.LoadSyncConfig(ctx)
	if err != nil {
		s.noteError(err)
		return
	}
	if !cfg.Enabled {
		return
	}

	drained, err := s.outbox.ProcessPending(ctx)
	if err != nil {
		s.noteError(err)
	}

	var pulled int64
	if cfg.AutoSync {
		defs, err := s.storage.ListObjectDefinitions(ctx, true)
		if err != nil {
			s.noteError(err)
		} else {
			for _, def := range defs {
				if !cfg.ObjectEnabled(def.APIName) || def.TableName == "" {
					continue
				}
				entry, err := s.inbound.BulkPull(ctx, def.APIName, models.TriggerScheduled)
				if err != nil {
					s.noteError(err)
					continue
				}
				pulled += int64(entry.Succeeded)
			}
		}
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.stats.TicksCompleted++
	s.stats.LastTickAt = &now
	if drained != nil {
		s.stats.EntriesDrained += int64(drained.Succeeded)
	}
	s.stats.RecordsPulled += pulled
	s.mu.Unlock()
}

func (s *Scheduler) pollInterval(ctx context.Context) time.Duration {
	cfg, err := s.storage.LoadSyncConfig(ctx)
	if err != nil || cfg.PollInterval <= 0 {
		return time.Minute
	}
	return cfg.PollInterval
}

func (s *Scheduler) noteError(err error) {
	s.logger.WithFields(logrus.Fields{
		"error": err.Error(),
	}).Error("Scheduler tick error")
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}

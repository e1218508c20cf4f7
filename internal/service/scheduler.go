package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipeboard/contact-sync/internal/logger"
)

// SnapshotScheduler persists the working set on an interval and once more on
// Stop
type SnapshotScheduler struct {
	sync     *SyncService
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewSnapshotScheduler creates a new snapshot scheduler
func NewSnapshotScheduler(svc *SyncService, interval time.Duration) *SnapshotScheduler {
	return &SnapshotScheduler{
		sync:     svc,
		interval: interval,
		log:      logger.For("scheduler"),
	}
}

// Start starts the scheduler
func (s *SnapshotScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("snapshot scheduler disabled")
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.log.Info("snapshot scheduler started", slog.Duration("interval", s.interval))
}

// Stop stops the scheduler and writes a final snapshot
func (s *SnapshotScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.save(ctx)
	s.log.Info("snapshot scheduler stopped")
}

func (s *SnapshotScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.save(s.ctx)
		}
	}
}

func (s *SnapshotScheduler) save(ctx context.Context) {
	if err := s.sync.SaveSnapshot(ctx); err != nil {
		s.log.Warn("snapshot failed", slog.Any("error", err))
		return
	}
	s.log.Debug("snapshot saved", slog.Int("contacts", s.sync.Store().Len()))
}

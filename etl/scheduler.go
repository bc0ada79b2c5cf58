package etl

import (
	"context"
	"log"
	"sync"
	"time"

	"fleet-report/config"
	"fleet-report/mart"
)

// MartRefresher rebuilds the fleet energy summary
type MartRefresher interface {
	Refresh(ctx context.Context) (mart.MartStats, error)
}

// RetentionStore deletes data past its retention
type RetentionStore interface {
	CleanupOldData(ctx context.Context, reportDays, jobDays int) (map[string]int64, error)
}

// OutboxDispatcher retries pending report notifications
type OutboxDispatcher interface {
	DispatchDue(ctx context.Context) (delivered, failed int, err error)
}

// Scheduler handles periodic tasks
type Scheduler struct {
	cfg         *config.Config
	martBuilder MartRefresher
	repo        RetentionStore
	outbox      OutboxDispatcher
	now         func() time.Time

	mu          sync.Mutex
	lastCleanup time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewScheduler creates a new scheduler. outbox may be nil.
func NewScheduler(cfg *config.Config, martBuilder MartRefresher, repo RetentionStore, outbox OutboxDispatcher) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		martBuilder: martBuilder,
		repo:        repo,
		outbox:      outbox,
		now:         time.Now,
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	if !s.cfg.Scheduler.Enabled {
		log.Println("[Scheduler] Disabled by config.")
		return
	}

	interval := s.cfg.Scheduler.Interval()
	outboxInterval := s.cfg.Scheduler.OutboxInterval()
	log.Printf("[Scheduler] Starting. Interval: %v, outbox: %v (cleanup at %s)", interval, outboxInterval, s.cfg.Retention.CleanupTime)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		outboxTicker := time.NewTicker(outboxInterval)
		defer outboxTicker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunJob(ctx)
			case <-outboxTicker.C:
				s.RunOutbox(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running job to return
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	log.Println("[Scheduler] Stopped.")
}

// RunJob runs the daily cleanup when due, then refreshes the mart
func (s *Scheduler) RunJob(ctx context.Context) {
	log.Println("[Scheduler] Starting scheduled run...")

	// Cleanup first so the refreshed summary drops purged facts.
	s.checkAndRunCleanup(ctx)

	if stats, err := s.martBuilder.Refresh(ctx); err != nil {
		log.Printf("[Scheduler] Mart refresh failed: %v", err)
	} else {
		log.Printf("[Scheduler] Mart refreshed. Loggers: %d, events: %d", stats.Loggers, stats.Events)
	}

	log.Println("[Scheduler] Run finished.")
}

// RunOutbox hands due report notifications to the publishers
func (s *Scheduler) RunOutbox(ctx context.Context) {
	if s.outbox == nil {
		return
	}
	delivered, failed, err := s.outbox.DispatchDue(ctx)
	if err != nil {
		log.Printf("[Scheduler] Outbox dispatch failed: %v", err)
		return
	}
	if delivered > 0 || failed > 0 {
		log.Printf("[Scheduler] Outbox: %d delivered, %d failed", delivered, failed)
	}
}

// cleanupDue reports whether today's cleanup time has passed without a run.
func (s *Scheduler) cleanupDue(now time.Time) bool {
	cleanupTimeStr := s.cfg.Retention.CleanupTime
	if cleanupTimeStr == "" {
		cleanupTimeStr = "03:00"
	}
	target, err := time.Parse("15:04", cleanupTimeStr)
	if err != nil {
		log.Printf("[Scheduler] Invalid cleanup time format: %v", err)
		return false
	}
	cleanupTarget := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())

	s.mu.Lock()
	defer s.mu.Unlock()
	// A restart after the target runs it again; deletes are idempotent.
	return now.After(cleanupTarget) && (s.lastCleanup.IsZero() || s.lastCleanup.Before(cleanupTarget))
}

func (s *Scheduler) checkAndRunCleanup(ctx context.Context) {
	now := s.now()
	if !s.cleanupDue(now) {
		return
	}

	log.Println("[Scheduler] Starting daily cleanup...")
	deleted, err := s.repo.CleanupOldData(ctx, s.cfg.Retention.ReportDays, s.cfg.Retention.JobDays)
	if err != nil {
		log.Printf("[Scheduler] Cleanup failed: %v", err)
		return
	}

	s.mu.Lock()
	s.lastCleanup = now
	s.mu.Unlock()
	log.Printf("[Scheduler] Cleanup completed. Deleted: %v", deleted)
}

package services

import (
	"os"
	"time"

	"github.com/huangang/aiusage/internal/config"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	lockScheduledExport = "scheduled_export"
	lockLogCleanup      = "log_cleanup"
	lockTTL             = 24 * time.Hour
)

// Scheduler runs the periodic jobs: the optional scheduled export and the
// system log retention cleanup.
type Scheduler struct {
	db       *gorm.DB
	cfg      *config.Config
	queue    TaskQueue
	logs     *SystemLogService
	cron     *cron.Cron
	instance string
}

func NewScheduler(db *gorm.DB, cfg *config.Config, queue TaskQueue) *Scheduler {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &Scheduler{
		db:       db,
		cfg:      cfg,
		queue:    queue,
		logs:     NewSystemLogService(db),
		cron:     cron.New(),
		instance: host,
	}
}

// Start registers the configured jobs and starts the cron loop. An invalid
// cron expression is returned and nothing is started.
func (s *Scheduler) Start() error {
	if expr := s.cfg.Schedule.Export; expr != "" {
		if _, err := s.cron.AddFunc(expr, s.runScheduledExport); err != nil {
			return err
		}
		logger.Infof("[Scheduler] Export scheduled (cron: %s)", expr)
	}
	if expr := s.cfg.Schedule.LogCleanup; expr != "" {
		if _, err := s.cron.AddFunc(expr, s.runLogCleanup); err != nil {
			return err
		}
		logger.Infof("[Scheduler] Log cleanup scheduled (cron: %s, retention: %d days)", expr, s.cfg.Log.RetentionDays)
	}
	s.cron.Start()
	logger.Info().Int("jobs", len(s.cron.Entries())).Msg("[Scheduler] Scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runScheduledExport() {
	if !s.tryLock(lockScheduledExport, time.Now().Format("2006-01-02T15:04")) {
		return
	}
	task := NewExportTask(FormatCSV, "schedule")
	if err := s.queue.Enqueue(task); err != nil {
		logger.Error().Err(err).Msg("[Scheduler] Failed to enqueue scheduled export")
		return
	}
	logger.Infof("[Scheduler] Scheduled export queued: job_id=%s", task.JobID)
}

func (s *Scheduler) runLogCleanup() {
	if !s.tryLock(lockLogCleanup, time.Now().Format("2006-01-02")) {
		return
	}
	runLogCleanup(s.logs, s.cfg.Log.RetentionDays)
}

// tryLock claims (name, key). It returns false when another instance holds
// the claim or the database is unreachable.
func (s *Scheduler) tryLock(name, key string) bool {
	now := time.Now()
	if err := s.db.Where("expires_at < ?", now).Delete(&models.SchedulerLock{}).Error; err != nil {
		logger.Warn().Err(err).Msg("[Scheduler] Failed to purge expired locks")
	}

	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(lockTTL),
	}
	if err := s.db.Create(&lock).Error; err != nil {
		logger.Debug().Str("lock", name).Str("key", key).Err(err).Msg("[Scheduler] Run already claimed")
		return false
	}
	return true
}

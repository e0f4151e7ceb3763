package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/config"
	"github.com/huangang/aiusage/internal/handlers"
	"github.com/huangang/aiusage/internal/middleware"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/pkg/logger"
	"gorm.io/gorm"
)

// app is the configuration and database shared by every command.
type app struct {
	cfg *config.Config
	db  *gorm.DB
}

// openApp loads the config, sets up logging and opens the migrated
// database. With seed set, default lookups are inserted into an empty
// database when the config asks for it.
func openApp(seed bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	if err := models.InitDB(&cfg.Database); err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if seed && cfg.Database.Seed {
		if err := models.SeedDefaultData(); err != nil {
			logger.Warn().Err(err).Msg("Failed to seed default data")
		}
	}

	services.InitSystemLogger(models.GetDB())
	return &app{cfg: cfg, db: models.GetDB()}, nil
}

func (a *app) close() {
	services.InitSystemLogger(nil)
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// appServices holds the long-running parts of the server.
type appServices struct {
	*app
	exportService *services.ExportService
	taskQueue     services.TaskQueue
	worker        *services.Worker
	scheduler     *services.Scheduler
	submitLimiter *middleware.RateLimiter
}

// bootstrap starts the task queue, the export worker and the scheduler.
func bootstrap(a *app) (*appServices, error) {
	gin.SetMode(a.cfg.Server.Mode)
	handlers.Version = version
	services.GetMetrics()

	exportService := services.NewExportService(a.db, a.cfg.Export.Dir)

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(a.cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(exportService.ProcessExportTask)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.InitWorker(&a.cfg.Redis)
		if worker != nil {
			worker.SetProcessor(exportService.ProcessExportTask)
			if err := worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start export worker")
			}
		}
	}

	scheduler := services.NewScheduler(a.db, a.cfg, taskQueue)
	if err := scheduler.Start(); err != nil {
		if worker != nil {
			worker.Stop()
		}
		taskQueue.Close()
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	return &appServices{
		app:           a,
		exportService: exportService,
		taskQueue:     taskQueue,
		worker:        worker,
		scheduler:     scheduler,
		submitLimiter: middleware.NewRateLimiter(a.cfg.Server.SubmitRPS, a.cfg.Server.SubmitBurst),
	}, nil
}

// shutdown stops the scheduler first so no new export is queued, then
// drains the queue.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("Scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	s.submitLimiter.Stop()
}

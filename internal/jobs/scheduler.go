package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"folio/internal/config"
)

// geoLiteCheckInterval is how often the updater checks whether the weekly
// refresh is due.
const geoLiteCheckInterval = 24 * time.Hour

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *config.Config
	isRunning bool

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	retentionJob *RetentionJob
	geoLiteJob   *GeoLiteUpdaterJob

	tickers []*time.Ticker
	wg      sync.WaitGroup
}

func NewScheduler(dbManager ConnectionProvider, logger *slog.Logger, cfg *config.Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		cfg:          cfg,
		retentionJob: NewRetentionJob(dbManager, logger, cfg),
		geoLiteJob:   NewGeoLiteUpdaterJob(dbManager, logger, cfg),
	}
}

// executeJobSafely runs a job only if no other job is currently executing.
// It reports whether the job was started.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func(ctx context.Context) error) (ran bool) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return false
	}
	s.isProcessing = true
	s.processingMutex.Unlock()
	ran = true

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
	return ran
}

// Start launches the enabled jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.isRunning = true

	if s.cfg.RetentionJobEnabled {
		interval := s.cfg.RetentionJobInterval
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		s.every("retention", interval, s.retentionJob.Run)
	} else {
		s.logger.Info("Retention job disabled, purges are request driven")
	}

	if s.cfg.GeoLiteLicenseKey != "" {
		s.every("geolite_updater", geoLiteCheckInterval, s.geoLiteJob.Run)
	}

	s.logger.Info("Background jobs started", slog.Int("jobs", len(s.tickers)))
	return nil
}

// every runs job now and then on each tick until Stop.
func (s *Scheduler) every(name string, interval time.Duration, job func(ctx context.Context) error) {
	s.logger.Info("Starting job", slog.String("job", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	s.tickers = append(s.tickers, ticker)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJobSafely(name, job)

		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(name, job)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for running ones to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	for _, ticker := range s.tickers {
		ticker.Stop()
	}
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

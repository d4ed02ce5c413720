package jobs

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"folio/internal/analytics"
	"folio/internal/config"
)

// ConnectionProvider hands out the shared store connection.
type ConnectionProvider interface {
	GetConnection() *gorm.DB
}

// RetentionJob applies the default retention policy: sessions older than
// three months are purged, then any partial purge is resumed.
type RetentionJob struct {
	dbManager ConnectionProvider
	logger    *slog.Logger
	cfg       *config.Config

	// purgerOptions is overridden in tests.
	purgerOptions analytics.PurgerOptions
}

func NewRetentionJob(dbManager ConnectionProvider, logger *slog.Logger, cfg *config.Config) *RetentionJob {
	return &RetentionJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		purgerOptions: analytics.PurgerOptions{
			BatchSize: cfg.PurgeBatchSize,
			Location:  cfg.Location(),
		},
	}
}

// Run executes one retention pass.
func (j *RetentionJob) Run(ctx context.Context) error {
	db := j.dbManager.GetConnection()
	if db == nil {
		return analytics.ErrNotConfigured
	}
	purger := analytics.NewPurger(db, j.logger, j.purgerOptions)

	resumed, err := purger.ResumePartial(ctx)
	if err != nil {
		return err
	}
	if len(resumed) > 0 {
		j.logger.Info("Resumed partial purge jobs", slog.Int("count", len(resumed)))
	}

	job, err := purger.Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeOlderThan3Months})
	if err != nil {
		return err
	}

	j.logger.Info("Retention pass finished",
		slog.String("job_id", job.ID),
		slog.Int("deleted", job.Deleted))
	return nil
}

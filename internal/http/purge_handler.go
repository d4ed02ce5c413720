package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/http/middleware"
	"folio/internal/visitors"
)

// PurgeAction deletes sessions and their events. The mode comes from the
// request shape; ?resume=<job id> continues a partial job instead.
func PurgeAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	db := ctx.DB()
	if db == nil {
		return respondError(ctx, analytics.ErrNotConfigured)
	}

	purger := analytics.NewPurger(db, ctx.Logger, analytics.PurgerOptions{
		BatchSize: cfg.PurgeBatchSize,
		Location:  cfg.Location(),
	})

	var job *analytics.PurgeJob
	var err error
	if id := ctx.Query("resume"); id != "" {
		job, err = purger.Resume(ctx.UserContext(), id)
	} else {
		req := analytics.ParsePurgeRequest(analytics.PurgeQuery{
			Bots:      ctx.Query("bots"),
			All:       ctx.Query("all"),
			OlderThan: ctx.Query("olderThan"),
		}, ctx.Body(), visitors.NewIPHasher(cfg.AnalyticsIPSalt))
		job, err = purger.Purge(ctx.UserContext(), req)
	}

	cron, _ := ctx.Locals(middleware.CronCallerKey).(bool)
	if err != nil {
		if job == nil {
			return respondError(ctx, err)
		}
		ctx.Logger.Error("Purge left partial",
			slog.String("job_id", job.ID),
			slog.Bool("cron", cron),
			slog.Any("error", err))
		return ctx.Status(analytics.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
			"job":   job,
		})
	}

	ctx.Logger.Info("Purge request finished",
		slog.String("job_id", job.ID),
		slog.String("mode", string(job.Mode)),
		slog.Int("count", job.Deleted),
		slog.Bool("cron", cron))
	return ctx.JSON(fiber.Map{
		"ok":     true,
		"purged": job.Mode,
		"count":  job.Deleted,
		"job":    job,
	})
}

// PurgeJobAction returns one purge job.
func PurgeJobAction(ctx *cartridge.Context) error {
	job, err := analytics.GetPurgeJob(ctx.DB(), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(job)
}

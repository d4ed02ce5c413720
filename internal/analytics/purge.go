package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"folio/internal/botpolicy"
	"folio/internal/pkg/metrics"
	"folio/internal/settings"
	"folio/internal/timeframe"
	"folio/internal/visitors"
)

// DefaultPurgeBatchSize bounds the session IDs deleted per statement.
const DefaultPurgeBatchSize = 500

// RetentionMonths is the default retention policy.
const RetentionMonths = 3

// PurgeQuery holds the query-string switches of a purge request.
type PurgeQuery struct {
	Bots      string
	All       string
	OlderThan string
}

// PurgeRequest is a resolved purge: one mode and, for the hash modes, the
// hashes to delete.
type PurgeRequest struct {
	Mode   PurgeMode
	Hashes []string
}

// ParsePurgeRequest picks the mode by precedence: bots, all, olderThan=1month,
// body hashes, body ips, then the 3-month default. Raw IPs are hashed here
// and never persisted.
func ParsePurgeRequest(query PurgeQuery, body []byte, hasher visitors.IPHasher) PurgeRequest {
	switch {
	case query.Bots == "1":
		return PurgeRequest{Mode: PurgeModeBots}
	case query.All == "1":
		return PurgeRequest{Mode: PurgeModeAll}
	case query.OlderThan == "1month":
		return PurgeRequest{Mode: PurgeModeOlderThan1Month}
	}

	raw := string(body)
	if hashes := settings.StringList(raw, "hashes"); len(hashes) > 0 {
		return PurgeRequest{Mode: PurgeModeHashes, Hashes: hashes}
	}
	if ips := settings.StringList(raw, "ips"); len(ips) > 0 {
		return PurgeRequest{Mode: PurgeModeIPs, Hashes: hasher.HashAll(ips)}
	}
	return PurgeRequest{Mode: PurgeModeOlderThan3Months}
}

type PurgerOptions struct {
	BatchSize int
	Policy    botpolicy.Policy
	Clock     timeframe.TimeProvider
	Location  *time.Location
}

// Purger deletes sessions and their events in sequential batches, recording
// progress in a PurgeJob.
type Purger struct {
	db     *gorm.DB
	logger *slog.Logger
	opts   PurgerOptions

	// beforeBatch runs ahead of each batch; tests use it to inject failures.
	beforeBatch func(batch int) error
}

func NewPurger(db *gorm.DB, logger *slog.Logger, opts PurgerOptions) *Purger {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultPurgeBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = &timeframe.DefaultTimeProvider{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Purger{db: db, logger: logger, opts: opts}
}

func (p *Purger) policy() botpolicy.Policy {
	if p.opts.Policy != nil {
		return p.opts.Policy
	}
	return botpolicy.Current()
}

// Cutoff returns the creation-time boundary of the age-based modes.
func Cutoff(mode PurgeMode, now time.Time, loc *time.Location) (time.Time, bool) {
	switch mode {
	case PurgeModeOlderThan1Month:
		return timeframe.StartOfPreviousMonth(now, loc).UTC(), true
	case PurgeModeOlderThan3Months:
		return timeframe.MonthsAgo(now, RetentionMonths).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Purge starts a new job for req and runs it to completion or first failure.
// A failed batch leaves the job partial; earlier batches stay deleted.
func (p *Purger) Purge(ctx context.Context, req PurgeRequest) (*PurgeJob, error) {
	if p.db == nil {
		return nil, ErrNotConfigured
	}

	selector, err := json.Marshal(nonNil(req.Hashes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode purge selector: %w", err)
	}

	job := &PurgeJob{
		ID:       uuid.NewString(),
		Mode:     req.Mode,
		Selector: string(selector),
		Status:   PurgeStatusRunning,
	}
	if cutoff, ok := Cutoff(req.Mode, p.opts.Clock.Now(p.opts.Location), p.opts.Location); ok {
		job.Cutoff = &cutoff
	}

	if err := sqlite.PerformWrite(p.logger, p.db, func(tx *gorm.DB) error {
		return tx.Create(job).Error
	}); err != nil {
		return nil, storeError("create purge job", err)
	}

	p.logger.Info("Purge started",
		slog.String("job_id", job.ID),
		slog.String("mode", string(job.Mode)))
	return p.run(ctx, job)
}

// Resume continues a partial job from its last successful batch. Completed
// jobs are returned unchanged.
func (p *Purger) Resume(ctx context.Context, jobID string) (*PurgeJob, error) {
	if p.db == nil {
		return nil, ErrNotConfigured
	}
	job, err := GetPurgeJob(p.db, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == PurgeStatusCompleted {
		return job, nil
	}

	job.Status = PurgeStatusRunning
	job.Error = ""
	p.logger.Info("Purge resumed",
		slog.String("job_id", job.ID),
		slog.String("mode", string(job.Mode)),
		slog.String("after", job.LastSessionID))
	return p.run(ctx, job)
}

// ResumePartial resumes every partial job, oldest first.
func (p *Purger) ResumePartial(ctx context.Context) ([]*PurgeJob, error) {
	var jobs []PurgeJob
	if err := p.db.Where("status = ?", PurgeStatusPartial).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, storeError("load partial purge jobs", err)
	}
	var out []*PurgeJob
	for i := range jobs {
		job, err := p.Resume(ctx, jobs[i].ID)
		if job != nil {
			out = append(out, job)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (p *Purger) run(ctx context.Context, job *PurgeJob) (*PurgeJob, error) {
	ids, err := p.resolve(job)
	if err != nil {
		return p.fail(job, err)
	}
	job.Total = job.Deleted + len(ids)

	for _, batch := range chunk(ids, p.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return p.fail(job, err)
		}
		if p.beforeBatch != nil {
			if err := p.beforeBatch(job.Batches); err != nil {
				return p.fail(job, storeError("purge batch", err))
			}
		}

		events, sessions, err := deleteSessions(p.logger, p.db, batch)
		if err != nil {
			return p.fail(job, storeError("purge batch", err))
		}
		metrics.RecordPurged(string(job.Mode), events, sessions)

		job.Deleted += int(sessions)
		job.Batches++
		job.LastSessionID = batch[len(batch)-1]
		if err := p.save(job); err != nil {
			return job, err
		}
	}

	if job.Mode == PurgeModeAll {
		// Events whose session never upserted are not reachable by ID.
		var orphans int64
		err := sqlite.PerformWrite(p.logger, p.db, func(tx *gorm.DB) error {
			result := tx.Where("1 = 1").Delete(&Event{})
			orphans = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return p.fail(job, storeError("purge orphan events", err))
		}
		metrics.RecordPurged(string(job.Mode), orphans, 0)
	}

	now := time.Now().UTC()
	job.Status = PurgeStatusCompleted
	job.CompletedAt = &now
	if err := p.save(job); err != nil {
		return job, err
	}

	p.logger.Info("Purge completed",
		slog.String("job_id", job.ID),
		slog.String("mode", string(job.Mode)),
		slog.Int("deleted", job.Deleted),
		slog.Int("batches", job.Batches))
	return job, nil
}

// resolve lists the remaining session IDs of job, ascending, after its boundary.
func (p *Purger) resolve(job *PurgeJob) ([]string, error) {
	base := p.db.Model(&Session{}).
		Where("session_id > ?", job.LastSessionID).
		Order("session_id ASC").
		Session(&gorm.Session{})

	switch job.Mode {
	case PurgeModeBots:
		var rows []struct {
			SessionID string
			UserAgent string
		}
		if err := base.Select("session_id", "user_agent").Find(&rows).Error; err != nil {
			return nil, storeError("load sessions", err)
		}
		policy := p.policy()
		var ids []string
		for _, row := range rows {
			if policy.IsBot(row.UserAgent) {
				ids = append(ids, row.SessionID)
			}
		}
		return ids, nil

	case PurgeModeAll:
		return pluckSessionIDs(base)

	case PurgeModeOlderThan1Month, PurgeModeOlderThan3Months:
		if job.Cutoff == nil {
			return nil, fmt.Errorf("purge job %s has no cutoff", job.ID)
		}
		return pluckSessionIDs(base.Where("created_at < ?", job.Cutoff.UTC()))

	case PurgeModeHashes, PurgeModeIPs:
		hashes := settings.StringList(job.Selector, "@this")
		var ids []string
		for _, group := range chunk(hashes, lookupChunk) {
			found, err := pluckSessionIDs(base.Where("ip_hash IN ?", group))
			if err != nil {
				return nil, err
			}
			ids = append(ids, found...)
		}
		return sortedUnique(ids), nil

	default:
		return nil, badRequest("unknown purge mode %q", job.Mode)
	}
}

func pluckSessionIDs(query *gorm.DB) ([]string, error) {
	var ids []string
	if err := query.Pluck("session_id", &ids).Error; err != nil {
		return nil, storeError("load sessions", err)
	}
	return ids, nil
}

// deleteSessions removes the events of ids, then the sessions, in one write.
func deleteSessions(logger *slog.Logger, db *gorm.DB, ids []string) (events, sessions int64, err error) {
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("session_id IN ?", ids).Delete(&Event{})
		if result.Error != nil {
			return result.Error
		}
		events = result.RowsAffected

		result = tx.Where("session_id IN ?", ids).Delete(&Session{})
		if result.Error != nil {
			return result.Error
		}
		sessions = result.RowsAffected
		return nil
	})
	return events, sessions, err
}

func (p *Purger) fail(job *PurgeJob, cause error) (*PurgeJob, error) {
	job.Status = PurgeStatusPartial
	job.Error = cause.Error()
	metrics.PurgeBatchFailuresTotal.WithLabelValues(string(job.Mode)).Inc()
	p.logger.Error("Purge stopped",
		slog.String("job_id", job.ID),
		slog.String("mode", string(job.Mode)),
		slog.Int("deleted", job.Deleted),
		slog.String("boundary", job.LastSessionID),
		slog.Any("error", cause))

	if err := p.save(job); err != nil {
		return job, errors.Join(cause, err)
	}
	var storeErr *StoreError
	if errors.As(cause, &storeErr) {
		return job, cause
	}
	return job, storeError("purge", cause)
}

func (p *Purger) save(job *PurgeJob) error {
	err := sqlite.PerformWrite(p.logger, p.db, func(tx *gorm.DB) error {
		return tx.Save(job).Error
	})
	if err != nil {
		return storeError("save purge job", err)
	}
	return nil
}

// GetPurgeJob loads a job by ID.
func GetPurgeJob(db *gorm.DB, id string) (*PurgeJob, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}
	var job PurgeJob
	if err := db.Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurgeJobNotFound
		}
		return nil, storeError("load purge job", err)
	}
	return &job, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	slices.Sort(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

package analytics_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"folio/internal/analytics"
	"folio/internal/testsupport"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now(loc *time.Location) time.Time { return c.now.In(loc) }

var purgeNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newPurger(db *gorm.DB, batchSize int) *analytics.Purger {
	return analytics.NewPurger(db, testsupport.GetLogger(), analytics.PurgerOptions{
		BatchSize: batchSize,
		Policy:    crawlerPolicy,
		Clock:     fixedClock{now: purgeNow},
	})
}

// seedVisit creates a session with two events.
func seedVisit(t *testing.T, db *gorm.DB, f testsupport.SessionFixture) {
	t.Helper()
	s := testsupport.CreateSession(t, db, f)
	testsupport.CreateEvent(t, db, testsupport.EventFixture{SessionID: s.SessionID, Path: "/", CreatedAt: s.CreatedAt})
	testsupport.CreateEvent(t, db, testsupport.EventFixture{SessionID: s.SessionID, Type: analytics.EventTypeClick, Path: "/", ElementID: "cta", CreatedAt: s.CreatedAt})
}

func remainingSessionIDs(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var ids []string
	require.NoError(t, db.Model(&analytics.Session{}).Order("session_id ASC").Pluck("session_id", &ids).Error)
	return ids
}

func assertNoOrphanEvents(t *testing.T, db *gorm.DB) {
	t.Helper()
	var orphans int64
	require.NoError(t, db.Model(&analytics.Event{}).
		Where("session_id NOT IN (?)", db.Model(&analytics.Session{}).Select("session_id")).
		Count(&orphans).Error)
	assert.Zero(t, orphans, "events referencing deleted sessions")
}

func TestParsePurgeRequest(t *testing.T) {
	hasher := testsupport.Hasher()
	h := hasher.Hash("203.0.113.1")

	testCases := []struct {
		name   string
		query  analytics.PurgeQuery
		body   string
		mode   analytics.PurgeMode
		hashes []string
	}{
		{"bots wins over everything", analytics.PurgeQuery{Bots: "1", All: "1", OlderThan: "1month"}, `{"hashes":["` + h + `"]}`, analytics.PurgeModeBots, nil},
		{"all before age", analytics.PurgeQuery{All: "1", OlderThan: "1month"}, "", analytics.PurgeModeAll, nil},
		{"one month", analytics.PurgeQuery{OlderThan: "1month"}, `{"ips":["203.0.113.1"]}`, analytics.PurgeModeOlderThan1Month, nil},
		{"hashes before ips", analytics.PurgeQuery{}, `{"hashes":["` + h + `"],"ips":["198.51.100.1"]}`, analytics.PurgeModeHashes, []string{h}},
		{"ips are hashed", analytics.PurgeQuery{}, `{"ips":[" 203.0.113.1 "]}`, analytics.PurgeModeIPs, []string{h}},
		{"empty lists fall through", analytics.PurgeQuery{}, `{"hashes":[],"ips":"nope"}`, analytics.PurgeModeOlderThan3Months, nil},
		{"bots must be exactly 1", analytics.PurgeQuery{Bots: "true"}, "", analytics.PurgeModeOlderThan3Months, nil},
		{"unparseable body is ignored", analytics.PurgeQuery{}, `not json`, analytics.PurgeModeOlderThan3Months, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := analytics.ParsePurgeRequest(tc.query, []byte(tc.body), hasher)
			assert.Equal(t, tc.mode, req.Mode)
			if tc.hashes != nil {
				assert.Equal(t, tc.hashes, req.Hashes)
			}
		})
	}
}

func TestPurgeModes(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	ctx := context.Background()

	recent := purgeNow.AddDate(0, 0, -3)
	lastMonth := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	winter := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	seed := func(t *testing.T) {
		testsupport.CleanAllTables(db)
		seedVisit(t, db, testsupport.SessionFixture{SessionID: "a-recent", IP: "203.0.113.1", CreatedAt: recent})
		seedVisit(t, db, testsupport.SessionFixture{SessionID: "b-bot", IP: "203.0.113.2", UserAgent: "AhrefsBot/7.0", CreatedAt: recent})
		seedVisit(t, db, testsupport.SessionFixture{SessionID: "c-may", IP: "203.0.113.3", CreatedAt: lastMonth})
		seedVisit(t, db, testsupport.SessionFixture{SessionID: "d-april", IP: "203.0.113.1", CreatedAt: april})
		seedVisit(t, db, testsupport.SessionFixture{SessionID: "e-winter", IP: "203.0.113.4", CreatedAt: winter})
	}

	testCases := []struct {
		name      string
		req       analytics.PurgeRequest
		remaining []string
	}{
		{"bots", analytics.PurgeRequest{Mode: analytics.PurgeModeBots}, []string{"a-recent", "c-may", "d-april", "e-winter"}},
		{"older than one month", analytics.PurgeRequest{Mode: analytics.PurgeModeOlderThan1Month}, []string{"a-recent", "b-bot", "c-may"}},
		{"older than three months", analytics.PurgeRequest{Mode: analytics.PurgeModeOlderThan3Months}, []string{"a-recent", "b-bot", "c-may", "d-april"}},
		{"hashes", analytics.PurgeRequest{Mode: analytics.PurgeModeHashes, Hashes: []string{testsupport.Hasher().Hash("203.0.113.1")}}, []string{"b-bot", "c-may", "e-winter"}},
		{"ips", analytics.PurgeRequest{Mode: analytics.PurgeModeIPs, Hashes: testsupport.Hasher().HashAll([]string{"203.0.113.3", "203.0.113.4"})}, []string{"a-recent", "b-bot", "d-april"}},
		{"all", analytics.PurgeRequest{Mode: analytics.PurgeModeAll}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seed(t)

			job, err := newPurger(db, 2).Purge(ctx, tc.req)
			require.NoError(t, err)

			assert.Equal(t, analytics.PurgeStatusCompleted, job.Status)
			assert.Equal(t, 5-len(tc.remaining), job.Deleted)
			assert.Equal(t, job.Total, job.Deleted)
			assert.NotNil(t, job.CompletedAt)
			assert.Equal(t, tc.remaining, remainingSessionIDsOrNil(t, db))
			assertNoOrphanEvents(t, db)
		})
	}

	t.Run("age modes record their cutoff", func(t *testing.T) {
		seed(t)

		job, err := newPurger(db, 2).Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeOlderThan1Month})
		require.NoError(t, err)
		require.NotNil(t, job.Cutoff)
		assert.True(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Equal(*job.Cutoff))

		job, err = newPurger(db, 2).Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeBots})
		require.NoError(t, err)
		assert.Nil(t, job.Cutoff)
	})

	t.Run("all removes orphan events", func(t *testing.T) {
		seed(t)
		testsupport.CreateEvent(t, db, testsupport.EventFixture{SessionID: "never-upserted", Path: "/"})

		_, err := newPurger(db, 500).Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeAll})
		require.NoError(t, err)

		var events int64
		require.NoError(t, db.Model(&analytics.Event{}).Count(&events).Error)
		assert.Zero(t, events)
	})

	t.Run("nothing to delete still completes", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		job, err := newPurger(db, 2).Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeBots})
		require.NoError(t, err)
		assert.Equal(t, analytics.PurgeStatusCompleted, job.Status)
		assert.Zero(t, job.Batches)
	})
}

func remainingSessionIDsOrNil(t *testing.T, db *gorm.DB) []string {
	ids := remainingSessionIDs(t, db)
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func TestPurgeResume(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	ctx := context.Background()

	seed := func(t *testing.T) {
		testsupport.CleanAllTables(db)
		for i := 1; i <= 5; i++ {
			seedVisit(t, db, testsupport.SessionFixture{SessionID: fmt.Sprintf("s%02d", i), IP: fmt.Sprintf("203.0.113.%d", i)})
		}
	}

	t.Run("a failed batch leaves a partial job at the last boundary", func(t *testing.T) {
		seed(t)

		purger := newPurger(db, 2)
		analytics.SetBeforeBatch(purger, func(batch int) error {
			if batch == 1 {
				return errors.New("database is locked")
			}
			return nil
		})

		job, err := purger.Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeAll})
		require.Error(t, err)
		assert.Equal(t, 500, analytics.HTTPStatus(err))
		assert.Equal(t, "database is locked", err.Error())

		require.NotNil(t, job)
		assert.Equal(t, analytics.PurgeStatusPartial, job.Status)
		assert.Equal(t, 2, job.Deleted)
		assert.Equal(t, 5, job.Total)
		assert.Equal(t, "s02", job.LastSessionID)
		assert.Equal(t, []string{"s03", "s04", "s05"}, remainingSessionIDs(t, db))
		assertNoOrphanEvents(t, db)

		stored, err := analytics.GetPurgeJob(db, job.ID)
		require.NoError(t, err)
		assert.Equal(t, analytics.PurgeStatusPartial, stored.Status)
		assert.Equal(t, "database is locked", stored.Error)

		resumed, err := newPurger(db, 2).Resume(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, analytics.PurgeStatusCompleted, resumed.Status)
		assert.Equal(t, 5, resumed.Deleted)
		assert.Equal(t, 3, resumed.Batches)
		assert.Empty(t, resumed.Error)
		assert.Empty(t, remainingSessionIDs(t, db))
	})

	t.Run("hash jobs resume with their stored selector", func(t *testing.T) {
		seed(t)
		hashes := testsupport.Hasher().HashAll([]string{"203.0.113.1", "203.0.113.2", "203.0.113.3"})

		purger := newPurger(db, 1)
		analytics.SetBeforeBatch(purger, func(batch int) error {
			if batch == 1 {
				return errors.New("disk I/O error")
			}
			return nil
		})
		job, err := purger.Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeHashes, Hashes: hashes})
		require.Error(t, err)
		assert.Equal(t, 1, job.Deleted)

		resumed, err := newPurger(db, 1).Resume(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, resumed.Deleted)
		assert.Equal(t, []string{"s04", "s05"}, remainingSessionIDs(t, db))
	})

	t.Run("resume partial picks up every partial job", func(t *testing.T) {
		seed(t)

		purger := newPurger(db, 2)
		analytics.SetBeforeBatch(purger, func(int) error { return errors.New("database is locked") })
		job, err := purger.Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeAll})
		require.Error(t, err)
		assert.Zero(t, job.Deleted)

		jobs, err := newPurger(db, 2).ResumePartial(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, analytics.PurgeStatusCompleted, jobs[0].Status)
		assert.Empty(t, remainingSessionIDs(t, db))
	})

	t.Run("completed jobs are returned unchanged", func(t *testing.T) {
		seed(t)

		job, err := newPurger(db, 2).Purge(ctx, analytics.PurgeRequest{Mode: analytics.PurgeModeAll})
		require.NoError(t, err)

		seedVisit(t, db, testsupport.SessionFixture{SessionID: "s99"})
		again, err := newPurger(db, 2).Resume(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.Deleted, again.Deleted)
		assert.Equal(t, []string{"s99"}, remainingSessionIDs(t, db))
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := newPurger(db, 2).Resume(ctx, "missing")
		assert.ErrorIs(t, err, analytics.ErrPurgeJobNotFound)
		assert.Equal(t, 404, analytics.HTTPStatus(err))
	})

	t.Run("cancelled context stops before the next batch", func(t *testing.T) {
		seed(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		job, err := newPurger(db, 2).Purge(cancelled, analytics.PurgeRequest{Mode: analytics.PurgeModeAll})
		require.Error(t, err)
		assert.Equal(t, analytics.PurgeStatusPartial, job.Status)
		assert.Len(t, remainingSessionIDs(t, db), 5)
	})
}

func TestCutoff(t *testing.T) {
	cutoff, ok := analytics.Cutoff(analytics.PurgeModeOlderThan3Months, purgeNow, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), cutoff)

	_, ok = analytics.Cutoff(analytics.PurgeModeHashes, purgeNow, time.UTC)
	assert.False(t, ok)
}

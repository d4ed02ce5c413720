package jobs_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/jobs"
	"folio/internal/testsupport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Timezone:             "UTC",
		DatabasePath:         dir,
		GeoDBPath:            filepath.Join(dir, "GeoLite2-City.mmdb"),
		PurgeBatchSize:       2,
		RetentionJobInterval: time.Hour,
	}
}

func TestRetentionJob(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	now := time.Now().UTC()
	stale := testsupport.CreateSession(t, db, testsupport.SessionFixture{CreatedAt: now.AddDate(0, -5, 0)})
	fresh := testsupport.CreateSession(t, db, testsupport.SessionFixture{CreatedAt: now.AddDate(0, 0, -3)})
	flagged := testsupport.CreateSession(t, db, testsupport.SessionFixture{IP: "203.0.113.9", CreatedAt: now.AddDate(0, 0, -1)})

	// A hash purge that stopped before its first batch.
	partial := &analytics.PurgeJob{
		ID:       "11111111-1111-1111-1111-111111111111",
		Mode:     analytics.PurgeModeHashes,
		Selector: `["` + flagged.IPHash + `"]`,
		Status:   analytics.PurgeStatusPartial,
	}
	require.NoError(t, db.Create(partial).Error)

	job := jobs.NewRetentionJob(dbManager, logger, testConfig(t))
	require.NoError(t, job.Run(context.Background()))

	var remaining []string
	require.NoError(t, db.Model(&analytics.Session{}).Pluck("session_id", &remaining).Error)
	assert.Equal(t, []string{fresh.SessionID}, remaining)
	assert.NotContains(t, remaining, stale.SessionID)

	resumed, err := analytics.GetPurgeJob(db, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, analytics.PurgeStatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.Deleted)

	var retentionJobs int64
	require.NoError(t, db.Model(&analytics.PurgeJob{}).
		Where("mode = ?", analytics.PurgeModeOlderThan3Months).
		Count(&retentionJobs).Error)
	assert.Equal(t, int64(1), retentionJobs)
}

type noStore struct{}

func (noStore) GetConnection() *gorm.DB { return nil }

func TestRetentionJobWithoutStore(t *testing.T) {
	job := jobs.NewRetentionJob(noStore{}, testsupport.GetLogger(), testConfig(t))
	assert.ErrorIs(t, job.Run(context.Background()), analytics.ErrNotConfigured)
}

func geoArchive(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "GeoLite2-City_20240101/COPYRIGHT.txt", Mode: 0o644, Size: 3}))
	_, err := tw.Write([]byte("(c)"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
	_, err = tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractMMDB(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "city.mmdb")

	archive := geoArchive(t, "GeoLite2-City_20240101/GeoLite2-City.mmdb", []byte("mmdb-bytes"))
	require.NoError(t, jobs.ExtractMMDB(dest, archive))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mmdb-bytes", string(got))

	noDB := geoArchive(t, "GeoLite2-City_20240101/README.txt", []byte("nothing"))
	assert.ErrorContains(t, jobs.ExtractMMDB(dest+"2", noDB), "no .mmdb file found")

	assert.Error(t, jobs.ExtractMMDB(dest+"3", []byte("not gzip")))
}

func TestGeoLiteUpdater(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	archive := geoArchive(t, "GeoLite2-City_20240101/GeoLite2-City.mmdb", []byte("fresh"))
	var requests int
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotKey = r.URL.Query().Get("license_key")
		if gotKey != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(archive)
	}))
	defer server.Close()

	cfg := testConfig(t)

	t.Run("skipped without license key", func(t *testing.T) {
		job := jobs.NewGeoLiteUpdaterJob(dbManager, logger, cfg)
		jobs.SetDownloadURL(job, server.URL+"/?license_key=%s")
		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, 0, requests)
	})

	t.Run("failed download is recorded", func(t *testing.T) {
		badCfg := *cfg
		badCfg.GeoLiteLicenseKey = "bad-key"
		job := jobs.NewGeoLiteUpdaterJob(dbManager, logger, &badCfg)
		jobs.SetDownloadURL(job, server.URL+"/?license_key=%s")

		err := job.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, jobs.LastGeoLiteError(db), "status: 401")
		assert.True(t, jobs.LastGeoLiteUpdate(db).IsZero())
	})

	t.Run("downloads and records the update", func(t *testing.T) {
		goodCfg := *cfg
		goodCfg.GeoLiteLicenseKey = "good-key"
		job := jobs.NewGeoLiteUpdaterJob(dbManager, logger, &goodCfg)
		jobs.SetDownloadURL(job, server.URL+"/?license_key=%s")

		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, "good-key", gotKey)

		got, err := os.ReadFile(goodCfg.GeoDBPath)
		require.NoError(t, err)
		assert.Equal(t, "fresh", string(got))
		assert.WithinDuration(t, time.Now(), jobs.LastGeoLiteUpdate(db), time.Minute)
		assert.Empty(t, jobs.LastGeoLiteError(db))

		// A second run within the week does nothing.
		before := requests
		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, before, requests)
	})
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	s := jobs.NewScheduler(dbManager, logger, testConfig(t))

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		jobs.ExecuteJobSafely(s, "slow", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	ran := jobs.ExecuteJobSafely(s, "second", func(ctx context.Context) error { return nil })
	assert.False(t, ran)

	close(release)
	wg.Wait()

	ran = jobs.ExecuteJobSafely(s, "third", func(ctx context.Context) error { panic("boom") })
	assert.True(t, ran, "panics are recovered and the slot is released")
	assert.True(t, jobs.ExecuteJobSafely(s, "fourth", func(ctx context.Context) error { return nil }))
}

func TestSchedulerStartStop(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	testsupport.CleanAllTables(dbManager.GetConnection())

	cfg := testConfig(t)
	cfg.RetentionJobEnabled = true
	s := jobs.NewScheduler(dbManager, logger, cfg)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())
}

package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/settings"
	"folio/internal/testsupport"
)

func boolPtr(b bool) *bool { return &b }

func TestPutSetting(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("creates then bumps version on update", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		require.NoError(t, settings.PutSetting(db, "greeting", "hello"))
		row, err := settings.GetSetting(db, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "hello", row.Value)
		assert.Equal(t, 1, row.Version)

		require.NoError(t, settings.PutSetting(db, "greeting", "bonjour"))
		row, err = settings.GetSetting(db, "greeting")
		require.NoError(t, err)
		assert.Equal(t, "bonjour", row.Value)
		assert.Equal(t, 2, row.Version)
	})

	t.Run("missing key returns not found", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		_, err := settings.GetSetting(db, "absent")
		assert.ErrorIs(t, err, settings.ErrSettingNotFound)
	})
}

func TestLoadAnalytics(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("defaults when nothing stored", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		a, err := settings.LoadAnalytics(db)
		require.NoError(t, err)
		assert.True(t, a.ExcludeBots)
		assert.True(t, a.ExcludeShortVisits)
		assert.Empty(t, a.Filter.Include)
		assert.Empty(t, a.Filter.Exclude)
		assert.Empty(t, a.Filter.ExcludeHashes)
		assert.Zero(t, a.Version)
	})

	t.Run("round trips filter and toggles", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		require.NoError(t, settings.SaveIPFilter(db, settings.IPFilter{
			Include: []string{"203.0.113.1"},
			Exclude: []string{"198.51.100.2"},
		}))
		require.NoError(t, settings.SaveToggles(db, boolPtr(false), nil))

		a, err := settings.LoadAnalytics(db)
		require.NoError(t, err)
		assert.Equal(t, []string{"203.0.113.1"}, a.Filter.Include)
		assert.Equal(t, []string{"198.51.100.2"}, a.Filter.Exclude)
		assert.Equal(t, []string{}, a.Filter.ExcludeHashes)
		assert.False(t, a.ExcludeBots)
		assert.True(t, a.ExcludeShortVisits, "untouched toggle keeps its default")
		assert.Equal(t, 1, a.Version)
	})

	t.Run("malformed rows fall back leniently", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		require.NoError(t, settings.PutSettings(db, map[string]string{
			settings.KeyIPFilter:           `{"include":"203.0.113.1","exclude":[" 198.51.100.2 ",42,""],"excludeHashes":null}`,
			settings.KeyExcludeBots:        `not json`,
			settings.KeyExcludeShortVisits: `{"excludeShortVisits":false}`,
		}))

		a, err := settings.LoadAnalytics(db)
		require.NoError(t, err)
		assert.Equal(t, []string{}, a.Filter.Include)
		assert.Equal(t, []string{"198.51.100.2"}, a.Filter.Exclude)
		assert.Equal(t, []string{}, a.Filter.ExcludeHashes)
		assert.True(t, a.ExcludeBots)
		assert.False(t, a.ExcludeShortVisits)
	})
}

func TestAnalyticsStore(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	store := settings.NewAnalyticsStore(db, logger)

	a, err := store.Get()
	require.NoError(t, err)
	assert.True(t, a.ExcludeShortVisits)

	require.NoError(t, store.SaveToggles(nil, boolPtr(false)))

	a, err = store.Get()
	require.NoError(t, err)
	assert.False(t, a.ExcludeShortVisits, "writes clear the cached value")

	require.NoError(t, store.SaveIPFilter(settings.IPFilter{ExcludeHashes: []string{"abc"}}))
	a, err = store.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, a.Filter.ExcludeHashes)
}

func TestDecodeIPFilter(t *testing.T) {
	f := settings.DecodeIPFilter(`{"include":["a","a"," b "]}`)
	assert.Equal(t, []string{"a", "b"}, f.Include)
	assert.Equal(t, []string{}, f.Exclude)

	f = settings.DecodeIPFilter(`[]`)
	assert.Equal(t, []string{}, f.Include)
}

package analytics_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"folio/internal/analytics"
	"folio/internal/botpolicy"
	"folio/internal/settings"
	"folio/internal/testsupport"
)

var crawlerPolicy = botpolicy.PolicyFunc(func(ua string) bool {
	return strings.Contains(strings.ToLower(ua), "bot")
})

func sessionFrom(ip, ua string) *analytics.Session {
	return &analytics.Session{IPHash: testsupport.Hasher().Hash(ip), UserAgent: ua}
}

func TestFilterCheck(t *testing.T) {
	hasher := testsupport.Hasher()

	t.Run("exclude wins over include", func(t *testing.T) {
		a := settings.DefaultAnalytics()
		a.Filter.Include = []string{"203.0.113.1"}
		a.Filter.Exclude = []string{"203.0.113.1"}
		f := analytics.NewFilter(a, hasher, crawlerPolicy)

		assert.Equal(t, analytics.DroppedExcluded, f.Check(sessionFrom("203.0.113.1", safariUA)))
	})

	t.Run("stored hashes exclude like raw ips", func(t *testing.T) {
		a := settings.DefaultAnalytics()
		a.Filter.ExcludeHashes = []string{hasher.Hash("198.51.100.7")}
		f := analytics.NewFilter(a, hasher, crawlerPolicy)

		assert.False(t, f.Retain(sessionFrom("198.51.100.7", safariUA)))
		assert.True(t, f.Retain(sessionFrom("198.51.100.8", safariUA)))
	})

	t.Run("non-empty include list keeps only listed visitors", func(t *testing.T) {
		a := settings.DefaultAnalytics()
		a.Filter.Include = []string{"203.0.113.1"}
		f := analytics.NewFilter(a, hasher, crawlerPolicy)

		assert.Equal(t, analytics.Retained, f.Check(sessionFrom("203.0.113.1", safariUA)))
		assert.Equal(t, analytics.DroppedInclude, f.Check(sessionFrom("203.0.113.2", safariUA)))
	})

	t.Run("bots dropped only when the toggle is on", func(t *testing.T) {
		bot := sessionFrom("203.0.113.3", "Googlebot/2.1")

		a := settings.DefaultAnalytics()
		assert.Equal(t, analytics.DroppedBot, analytics.NewFilter(a, hasher, crawlerPolicy).Check(bot))

		a.ExcludeBots = false
		assert.Equal(t, analytics.Retained, analytics.NewFilter(a, hasher, crawlerPolicy).Check(bot))
	})

	t.Run("apply preserves order", func(t *testing.T) {
		a := settings.DefaultAnalytics()
		a.Filter.Exclude = []string{"203.0.113.2"}
		f := analytics.NewFilter(a, hasher, crawlerPolicy)

		in := []analytics.Session{
			{SessionID: "a", IPHash: hasher.Hash("203.0.113.1"), UserAgent: safariUA},
			{SessionID: "b", IPHash: hasher.Hash("203.0.113.2"), UserAgent: safariUA},
			{SessionID: "c", IPHash: hasher.Hash("203.0.113.3"), UserAgent: "AhrefsBot"},
			{SessionID: "d", IPHash: hasher.Hash("203.0.113.4"), UserAgent: safariUA},
		}
		out := f.Apply(in)

		ids := make([]string, len(out))
		for i := range out {
			ids[i] = out[i].SessionID
		}
		assert.Equal(t, []string{"a", "d"}, ids)
	})
}

package botpolicy

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log/slog"
)

func TestDefaultPolicy(t *testing.T) {
	policy := Default()

	patterns, regexes := policy.Size()
	assert.Equal(t, 63, patterns)
	assert.Zero(t, regexes)

	tests := []struct {
		name      string
		userAgent string
		want      bool
	}{
		{name: "empty user agent", userAgent: "", want: false},
		{name: "desktop chrome", userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36", want: false},
		{name: "iphone safari", userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1", want: false},
		{name: "googlebot", userAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", want: true},
		{name: "curl", userAgent: "curl/8.4.0", want: true},
		{name: "headless chrome", userAgent: "Mozilla/5.0 HeadlessChrome/120.0.0.0", want: true},
		{name: "uptime monitor", userAgent: "Mozilla/5.0+(compatible; UptimeRobot/2.0)", want: true},
		{name: "screaming frog with space", userAgent: "Screaming Frog SEO Spider/19.0", want: true},
		{name: "kubernetes probe", userAgent: "kube-probe/1.28", want: true},
		{name: "python requests", userAgent: "python-requests/2.31.0", want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.IsBot(tc.userAgent))
		})
	}
}

func TestPatternPolicyRegexes(t *testing.T) {
	policy, err := NewPatternPolicy(Rules{
		Categories: []Category{{Name: "custom", Patterns: []string{"  MyCrawler  ", "mycrawler", ""}}},
		Regexes:    []string{`^internal-probe/\d+`},
	})
	require.NoError(t, err)

	patterns, regexes := policy.Size()
	assert.Equal(t, 1, patterns, "patterns are trimmed, lowercased and de-duplicated")
	assert.Equal(t, 1, regexes)

	assert.True(t, policy.IsBot("Agent MYCRAWLER 1.0"))
	assert.True(t, policy.IsBot("Internal-Probe/42"))
	assert.False(t, policy.IsBot("probe internal-probe/42"))

	_, err = NewPatternPolicy(Rules{Regexes: []string{"("}})
	assert.Error(t, err)
}

func TestCurrentAndSet(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	assert.True(t, Current().IsBot("googlebot"))

	Set(PolicyFunc(func(ua string) bool { return ua == "only-me" }))
	assert.True(t, Current().IsBot("only-me"))
	assert.False(t, Current().IsBot("googlebot"))

	Set(nil)
	assert.True(t, Current().IsBot("googlebot"))
}

func TestWatcherReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bots.yml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - name: a\n    patterns: [alpha-agent]\n"), 0o644))

	var current atomic.Pointer[PatternPolicy]
	w := NewWatcher(path, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	w.debounce = 20 * time.Millisecond
	w.onReload = func(p *PatternPolicy) { current.Store(p) }

	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NotNil(t, current.Load())
	assert.True(t, current.Load().IsBot("alpha-agent/1"))
	assert.False(t, current.Load().IsBot("beta-agent/1"))

	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - name: b\n    patterns: [beta-agent]\n"), 0o644))

	require.Eventually(t, func() bool {
		p := current.Load()
		return p != nil && p.IsBot("beta-agent/1")
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, current.Load().IsBot("alpha-agent/1"))
}

func TestWatcherKeepsPolicyOnInvalidRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bots.yml")
	require.NoError(t, os.WriteFile(path, []byte("regexes: ['(']\n"), 0o644))

	w := NewWatcher(path, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	w.onReload = func(p *PatternPolicy) { t.Fatal("invalid rules must not be installed") }

	assert.Error(t, w.Start())
	w.Stop()
}

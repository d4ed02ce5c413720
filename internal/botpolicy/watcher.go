package botpolicy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 250 * time.Millisecond

// Watcher keeps the process-wide policy in sync with an operator rules
// file. It implements cartridge.BackgroundWorker.
type Watcher struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
	onReload func(*PatternPolicy)

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(path string, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		logger:   logger,
		debounce: defaultReloadDebounce,
		onReload: func(p *PatternPolicy) { Set(p) },
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Load reads the rules file once and installs the resulting policy.
func (w *Watcher) Load() error {
	rules, err := LoadRulesFile(w.path)
	if err != nil {
		return err
	}
	policy, err := NewPatternPolicy(rules)
	if err != nil {
		return err
	}
	w.onReload(policy)
	patterns, regexes := policy.Size()
	w.logger.Info("Bot policy loaded",
		slog.String("path", w.path),
		slog.Int("patterns", patterns),
		slog.Int("regexes", regexes))
	return nil
}

// Start loads the rules and watches the containing directory; editors
// often replace the file rather than writing it in place.
func (w *Watcher) Start() error {
	if err := w.Load(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create bot policy watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fsw

	go w.loop()
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.watcher == nil {
			return
		}
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Bot policy watcher error", slog.Any("error", err))

		case <-fire:
			fire = nil
			if err := w.Load(); err != nil {
				// Keep serving the previous policy.
				w.logger.Error("Failed to reload bot policy", slog.String("path", w.path), slog.Any("error", err))
			}
		}
	}
}

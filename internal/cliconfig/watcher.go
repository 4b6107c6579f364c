package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors the config file via fsnotify and reloads the retry
// tuning section on change. Only the hot-reloadable fields (max_retries,
// backoff_base, backoff_max, yield_every) take effect without a restart;
// everything else keeps its startup value.
type Watcher struct {
	path   string
	base   Config
	onTune func(Config)
	log    zerolog.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for the config file at path. onTune is
// invoked with the reloaded config after each change.
func NewWatcher(path string, base Config, log zerolog.Logger, onTune func(Config)) *Watcher {
	return &Watcher{path: path, base: base, onTune: onTune, log: log}
}

// Run blocks watching the config file's directory until ctx is done.
// Watching the directory rather than the file survives editors that
// replace the file on save.
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Error().Err(err).Msg("config watcher: failed to create watcher")
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.log.Error().Err(err).Str("dir", dir).Msg("config watcher: failed to watch")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watcher: error")
		}
	}
}

func (w *Watcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("config reload failed")
		return
	}

	cfg := w.base
	if err := ApplyFileConfig(&cfg, fc, nil); err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("reloaded config invalid, keeping current")
		return
	}

	w.log.Info().
		Int("max_retries", cfg.MaxRetries).
		Dur("backoff_base", cfg.BackoffBase).
		Dur("backoff_max", cfg.BackoffMax).
		Msg("config reloaded")
	if w.onTune != nil {
		w.onTune(cfg)
	}
}

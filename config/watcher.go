package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures the config file watcher
type WatcherConfig struct {
	// Path is the config file to watch
	Path string

	// DebounceDelay is how long to wait for more changes before reloading
	DebounceDelay time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Watcher reloads configuration when the backing file changes. Model pricing
// and selector weights change without restarts this way. A reload that fails
// to parse or validate keeps the previous config and logs the error.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	updates chan *Config
}

// NewWatcher creates a watcher for the given config file
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.DebounceDelay == 0 {
		config.DebounceDelay = 500 * time.Millisecond
	}

	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  logger,
		updates: make(chan *Config, 1),
	}, nil
}

// Updates returns the channel of validated reloaded configs
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Start begins watching the config file for changes
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory, not the file: editors replace files on save,
	// which would otherwise drop the watch.
	if err := w.watcher.Add(filepath.Dir(w.config.Path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Config watcher started",
		"path", w.config.Path,
		"debounce", w.config.DebounceDelay)

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.updates)
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.config.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.pendingMu.Lock()
			dirty := w.pending
			w.pending = false
			w.pendingMu.Unlock()
			if dirty {
				w.reload()
			}
		}
	}
}

// reload re-reads and validates the config file, emitting on success
func (w *Watcher) reload() {
	config, err := LoadFromFile(w.config.Path)
	if err != nil {
		w.logger.Error("Config reload failed", "path", w.config.Path, "error", err)
		return
	}
	if err := config.Validate(); err != nil {
		w.logger.Error("Reloaded config invalid, keeping previous", "path", w.config.Path, "error", err)
		return
	}

	select {
	case w.updates <- config:
		w.logger.Info("Config reloaded", "path", w.config.Path)
	default:
		// Consumer still processing the previous update; drop this one.
		// The next change will trigger another reload.
		w.logger.Warn("Config update dropped, consumer busy")
	}
}

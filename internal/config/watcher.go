package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one version of the config file on disk.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// ChangeFunc receives the previous and the freshly validated config.
type ChangeFunc func(prev, next *Config)

// Watcher polls a config file and hands every valid edit to a [ChangeFunc].
// Edits that fail to parse or validate are logged and skipped, so
// [Watcher.Current] is always a validated config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	// reloadMu serialises checks from the poll loop and Reload.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Reload re-reads the file now, ignoring the modification time. It reports
// whether a changed config was applied. An invalid file leaves Current
// untouched and is returned as the error.
func (w *Watcher) Reload() (bool, error) {
	return w.check(true)
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if _, err := w.check(false); err != nil {
				w.log.Warn("config: rejected edit, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// check applies the file when its content hash changed. Unless force is
// set, an unchanged mtime short-circuits before the file is read.
func (w *Watcher) check(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prevState := w.state
	w.mu.Unlock()

	if !force {
		fi, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		if fi.ModTime().Equal(prevState.mtime) {
			return false, nil
		}
	}

	next, st, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.sum == prevState.sum {
		// Touched, not edited.
		w.state = st
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.state = next, st
	w.mu.Unlock()

	d := Diff(prev, next)
	w.log.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"reference_a4_changed", d.ReferenceA4Changed,
		"session_changed", d.SessionChanged,
		"capture_changed", d.CaptureChanged,
	)
	if len(d.RestartRequired) > 0 {
		w.log.Warn("config: changes need a restart to take effect", "fields", d.RestartRequired)
	}

	if w.onChange != nil {
		w.onChange(prev, next)
	}
	return true, nil
}

// read loads and validates the file and fingerprints its content.
func (w *Watcher) read() (*Config, fileState, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: fi.ModTime(), sum: sha256.Sum256(data)}, nil
}

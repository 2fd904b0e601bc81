package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// snapshot is one successfully parsed version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher re-reads a config file when its modification time moves and hands
// each valid edit to a callback. An edit that fails to parse or validate is
// logged and skipped, and the previous version stays in force.
type Watcher struct {
	path     string
	every    time.Duration
	onChange func(ConfigDiff, *Config)

	last   atomic.Pointer[snapshot]
	cancel context.CancelFunc
	done   chan struct{}
}

type WatcherOption func(*Watcher)

// WithInterval sets how often the file is stat'ed. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// NewWatcher loads path once and then polls it in the background until Stop.
// onChange may be nil; it runs on the polling goroutine.
func NewWatcher(path string, onChange func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, every: 5 * time.Second, onChange: onChange, done: make(chan struct{})}
	for _, o := range opts {
		o(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last.Store(snap)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current is the most recent valid config.
func (w *Watcher) Current() *Config { return w.last.Load().cfg }

// Stop ends polling and waits for a running callback to return. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	tick := time.NewTicker(w.every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	log := slog.With("path", w.path)
	prev := w.last.Load()

	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn("config file unreadable", "err", err)
		return
	}
	if info.ModTime().Equal(prev.mtime) {
		return
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		log.Warn("config edit rejected, keeping previous version", "err", err)
		return
	}
	w.last.Store(next)
	if next.sum == prev.sum {
		// touched, not edited
		return
	}

	d := Diff(prev.cfg, next.cfg)
	log.Info("config reloaded", "hot", d.HotChanged(), "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(d, next.cfg)
	}
}

func readSnapshot(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := loadBytes(raw)
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(raw), mtime: info.ModTime()}, nil
}

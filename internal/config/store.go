package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type versioned struct {
	cfg     Config
	version uint64
}

// Store holds the live configuration. Readers poll Version to notice reloads.
type Store struct {
	cur atomic.Pointer[versioned]
}

func NewStore(cfg Config) *Store {
	s := &Store{}
	s.cur.Store(&versioned{cfg: cfg, version: 1})
	return s
}

func (s *Store) Get() (Config, uint64) {
	v := s.cur.Load()
	return v.cfg, v.version
}

func (s *Store) Version() uint64 { return s.cur.Load().version }

// Swap installs cfg and returns its version.
func (s *Store) Swap(cfg Config) uint64 {
	for {
		old := s.cur.Load()
		next := &versioned{cfg: cfg, version: old.version + 1}
		if s.cur.CompareAndSwap(old, next) {
			return next.version
		}
	}
}

// Watcher reloads a config file into a Store when it changes on disk.
// Invalid files are logged and the previous config stays live.
type Watcher struct {
	path     string
	store    *Store
	log      *zap.Logger
	watcher  *fsnotify.Watcher
	Debounce time.Duration

	// Overlay, if set, edits each freshly loaded config before the swap;
	// command line overrides go here so a reload keeps them.
	Overlay func(*Config)
	// OnReload, if set, runs after each successful swap.
	OnReload func(Config, uint64)
}

func NewWatcher(path string, store *Store, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	// Watch the directory: editors often replace the file by rename.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		store:    store,
		log:      log,
		watcher:  w,
		Debounce: 200 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	step := w.Debounce / 2
	if step <= 0 {
		step = 10 * time.Millisecond
	}
	tick := time.NewTicker(step)
	defer tick.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.Now()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		case <-tick.C:
			if pending.IsZero() || time.Since(pending) < w.Debounce {
				continue
			}
			pending = time.Time{}
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	if w.Overlay != nil {
		w.Overlay(&cfg)
	}
	v := w.store.Swap(cfg)
	w.log.Info("config reloaded", zap.String("path", w.path), zap.Uint64("version", v))
	if w.OnReload != nil {
		w.OnReload(cfg, v)
	}
}

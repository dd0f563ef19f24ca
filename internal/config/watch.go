package config

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kluzzebass/treeserve/internal/logging"
)

// Watcher reloads the configuration document on write, following the
// cert manager's fsnotify pattern (watch a fixed path, reload and swap
// on Write/Create events). The tree shape inside the reloaded Config
// (views, sources) is otherwise load-on-start only (§6.5); a Watcher runs
// only when a caller constructs one with NewWatcher.
type Watcher struct {
	log     *slog.Logger
	path    string
	watcher *fsnotify.Watcher
	stop    chan struct{}

	mu sync.Mutex
	on func(*Config, error)
}

// NewWatcher starts watching path, invoking onChange with each reload's
// result (a new *Config on success, or the error if the reload failed —
// callers decide whether to keep serving the previous Config). logger
// may be nil.
func NewWatcher(path string, onChange func(*Config, error), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		log:     logging.Default(logger).With("component", "config.watcher"),
		path:    path,
		watcher: fw,
		stop:    make(chan struct{}),
		on:      onChange,
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.watcher.Close()
	for {
		select {
		case <-w.stop:
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path, w.log)
			if err != nil {
				w.log.Warn("reload failed", "path", w.path, "error", err)
			}
			w.on(cfg, err)
		}
	}
}

// Close stops the watcher. Safe to call once.
func (w *Watcher) Close() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

package main

import (
	"log/slog"

	"github.com/kluzzebass/treeserve/internal/config"
	"github.com/kluzzebass/treeserve/internal/ingest"
	"github.com/kluzzebass/treeserve/internal/logging"
	"github.com/kluzzebass/treeserve/internal/snapshot"
	"github.com/kluzzebass/treeserve/internal/tree"
)

func buildIngester(cfg *config.Config, t *tree.Tree, logger *slog.Logger) (*ingest.Ingester, error) {
	entries, err := parseSourceEntries(cfg)
	if err != nil {
		return nil, err
	}
	purgeEvery, err := cfg.SourcesPurgeEvery()
	if err != nil {
		return nil, err
	}
	return ingest.New(ingest.Config{
		Tree:       t,
		Entries:    entries,
		PurgeEvery: purgeEvery,
		Logger:     logger,
	})
}

func parseSourceEntries(cfg *config.Config) ([]ingest.Entry, error) {
	list, ok := cfg.SourceEntries()
	if !ok {
		return nil, nil
	}
	return ingest.ParseEntries(cfg.Pool(), list)
}

// snapshotSaver debounces tree-rebuilt notifications into an
// at-most-one-in-flight background snapshot.Save, since the listener
// that triggers it runs with the tree's read lock already held (§5) and
// snapshot.Save takes that same lock itself.
type snapshotSaver struct {
	t      *tree.Tree
	dir    string
	log    *slog.Logger
	ch     chan struct{}
	stopCh chan struct{}
}

func newSnapshotSaver(t *tree.Tree, dir string, logger *slog.Logger) *snapshotSaver {
	s := &snapshotSaver{
		t:      t,
		dir:    dir,
		log:    logging.Default(logger).With("component", "snapshot"),
		ch:     make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *snapshotSaver) Trigger() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *snapshotSaver) loop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ch:
			if err := snapshot.Save(s.t, s.dir); err != nil {
				s.log.Warn("snapshot save failed", "dir", s.dir, "error", err)
			}
		}
	}
}

func (s *snapshotSaver) Stop() {
	close(s.stopCh)
}

// Package ingest implements the source ingester (§4.10): parallel pull of
// external subtrees, their merge into the live tree, and a "tree rebuilt"
// broadcast to dependent listeners. Grounded on
// original_source/src/maiden/mxsources.cpp for the lifecycle (startup
// checks, initial build, supervisor loop, purge-triggered full rebuild)
// and on the teacher's internal/orchestrator.Scheduler for expressing that
// loop with github.com/go-co-op/gocron/v2 instead of a hand-rolled ticker.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kluzzebass/treeserve/internal/logging"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/treeop"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// Listener is called after a successful rebuild or merge, with the tree's
// read lock held for the duration of the call (§5 "the tree rebuilt event
// is dispatched with the read lock still held"). Implementations must not
// block for long or take any other tree lock.
type Listener func(p *pool.Pool, root *variant.V)

// Config configures an Ingester.
type Config struct {
	Tree       *tree.Tree
	Entries    []Entry
	PurgeEvery time.Duration // 0 disables periodic full rebuilds
	Logger     *slog.Logger
}

// Ingester owns the supervisor loop described in §4.10: per-entry
// scheduled merges, and a periodic from-scratch rebuild.
type Ingester struct {
	log        *slog.Logger
	tree       *tree.Tree
	entries    []Entry
	purgeEvery time.Duration

	mu        sync.Mutex
	listeners []Listener

	sched gocron.Scheduler
}

// New constructs an Ingester. It does not start the supervisor; call
// Start for that.
func New(cfg Config) (*Ingester, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("ingest: create scheduler: %w", err)
	}
	return &Ingester{
		log:        logging.Default(cfg.Logger).With("component", "ingest"),
		tree:       cfg.Tree,
		entries:    cfg.Entries,
		purgeEvery: cfg.PurgeEvery,
		sched:      sched,
	}, nil
}

// AddListener registers a tree-rebuilt listener. Not safe to call
// concurrently with a rebuild; register listeners before Start.
func (in *Ingester) AddListener(l Listener) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.listeners = append(in.listeners, l)
}

// Start builds the initial tree synchronously (§4.10 step 2) and launches
// the supervisor's scheduled jobs (step 3). RunStartupChecks (step 1)
// should already have succeeded before calling Start.
func (in *Ingester) Start(ctx context.Context) error {
	if err := in.rebuildFull(ctx); err != nil {
		return fmt.Errorf("ingest: initial build: %w", err)
	}

	for _, e := range in.entries {
		if e.Every <= 0 {
			continue
		}
		entry := e
		_, err := in.sched.NewJob(
			gocron.DurationJob(entry.Every),
			gocron.NewTask(func() { in.ingestOne(ctx, entry) }),
			gocron.WithName("ingest-"+entry.ID.String()),
		)
		if err != nil {
			return fmt.Errorf("ingest: schedule entry %s: %w", entry, err)
		}
	}

	if in.purgeEvery > 0 {
		_, err := in.sched.NewJob(
			gocron.DurationJob(in.purgeEvery),
			gocron.NewTask(func() {
				if err := in.rebuildFull(ctx); err != nil {
					in.log.Error("periodic rebuild failed", "error", err)
				}
			}),
			gocron.WithName("ingest-purge"),
		)
		if err != nil {
			return fmt.Errorf("ingest: schedule purge: %w", err)
		}
	}

	in.sched.Start()
	return nil
}

// Stop cooperatively shuts down the supervisor (§4.10 step 4, §5
// "shutdown signals the supervisor... then joins"), waiting for
// in-flight jobs to finish.
func (in *Ingester) Stop() error {
	return in.sched.Shutdown()
}

// ingestOne pulls and merges a single entry (§4.10 step 3's per-entry
// async ingest). Failure logs and leaves the tree untouched.
func (in *Ingester) ingestOne(ctx context.Context, e Entry) {
	srcPool, raw, err := in.pull(ctx, e)
	if err != nil {
		in.log.Error("ingest failed", "entry", e.String(), "error", err)
		return
	}
	defer raw.Clear(srcPool)

	data, err := extractData(srcPool, &raw)
	if err != nil {
		in.log.Warn("ingest produced unusable data, skipping merge", "entry", e.String(), "error", err)
		return
	}

	var mergeErr error
	in.tree.WithLock(func(p *pool.Pool, root *variant.V) {
		mergeErr = treeop.Merge(srcPool, data, p, root, treeop.FlagRecursive)
	})
	if mergeErr != nil {
		in.log.Error("merge failed", "entry", e.String(), "error", mergeErr)
		return
	}
	in.log.Info("ingested and merged", "entry", e.String())
	in.broadcast()
}

// rebuildFull runs every entry in parallel into a fresh tree, then swaps
// it in under a single write lock (§4.10 step 3's purge branch). A
// failure to pull any entry aborts the whole swap, leaving the live tree
// untouched (§4.10 "a total-rebuild failure aborts the swap").
func (in *Ingester) rebuildFull(ctx context.Context) error {
	freshPool := pool.New()
	fresh := variant.NewMap(0)
	var freshMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range in.entries {
		entry := e
		g.Go(func() error {
			srcPool, raw, err := in.pull(gctx, entry)
			if err != nil {
				in.log.Error("rebuild: ingest failed", "entry", entry.String(), "error", err)
				return err
			}
			defer raw.Clear(srcPool)

			data, dataErr := extractData(srcPool, &raw)
			if dataErr != nil {
				in.log.Warn("rebuild: ingest produced unusable data, ignoring", "entry", entry.String(), "error", dataErr)
				return nil
			}

			freshMu.Lock()
			defer freshMu.Unlock()
			return treeop.Merge(srcPool, data, freshPool, &fresh, treeop.FlagRecursive)
		})
	}

	if err := g.Wait(); err != nil {
		fresh.Clear(freshPool)
		return fmt.Errorf("%w: %v", ErrRebuildAborted, err)
	}

	in.tree.WithLock(func(p *pool.Pool, root *variant.V) {
		root.Clear(p)
		_ = treeop.Merge(freshPool, &fresh, p, root, treeop.FlagFlat)
		p.Defrag()
	})
	fresh.Clear(freshPool)

	in.log.Info("tree rebuilt", "entries", len(in.entries))
	in.broadcast()
	return nil
}

// broadcast dispatches the tree-rebuilt event to every listener in
// parallel while the tree remains read-locked (§4.10 step 3, §5
// "listeners run their own handler in parallel futures while the tree
// remains read-locked").
func (in *Ingester) broadcast() {
	in.mu.Lock()
	listeners := append([]Listener(nil), in.listeners...)
	in.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	in.tree.WithRLock(func(p *pool.Pool, root *variant.V) {
		var wg sync.WaitGroup
		wg.Add(len(listeners))
		for _, l := range listeners {
			l := l
			go func() {
				defer wg.Done()
				l(p, root)
			}()
		}
		wg.Wait()
	})
}

// extractData takes the "data" subkey required of every pulled value
// (§4.10 step 3: "take its data subkey as a Map").
func extractData(p *pool.Pool, raw *variant.V) (*variant.V, error) {
	if raw.Kind() != variant.Map {
		return nil, ErrDataNotMap
	}
	h, ok := p.Lookup("data")
	if !ok {
		return nil, ErrNoDataKey
	}
	data, ok := raw.MapData().GetNoFetch(h)
	if !ok {
		return nil, ErrNoDataKey
	}
	if data.Kind() != variant.Map {
		return nil, ErrDataNotMap
	}
	return data, nil
}

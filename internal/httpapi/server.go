// Package httpapi is the thin net/http shim §6.6 calls "the core's
// consumer contract": three entry points (get_subtree, run_view, encode)
// plus the pretty-printing, compression negotiation, and reply-cache
// lookup that the core explicitly leaves to this layer. Grounded on the
// teacher's internal/server package for the listener/drain/shutdown
// lifecycle, stripped of everything tied to Connect RPC, auth, and the
// raft-backed config store (none of which SPEC_FULL.md calls for here).
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kluzzebass/treeserve/internal/callgroup"
	"github.com/kluzzebass/treeserve/internal/config"
	"github.com/kluzzebass/treeserve/internal/logging"
	"github.com/kluzzebass/treeserve/internal/notify"
	"github.com/kluzzebass/treeserve/internal/replycache"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/view"
)

// CertManager supplies TLS certificates for listen specs with ssl=true.
// Satisfied by internal/cert.Manager; an interface here keeps httpapi
// free of a direct dependency on that package's concrete type.
type CertManager interface {
	TLSConfig() *tls.Config
	// Names reports the certificates currently loaded, for /info.
	Names() []string
}

// Server exposes the tree over HTTP: GET /tree/<path> (get_subtree),
// GET /view/<name>/<remainder> (run_view), with format/pretty negotiated
// per-request (encode).
type Server struct {
	log     *slog.Logger
	tree    *tree.Tree
	cfg     *config.Config
	views   map[string]*view.View
	cache   *replycache.Cache
	certMgr CertManager
	debug   bool

	// coalesce collapses concurrent cache-miss requests that share a
	// reply-cache fingerprint into a single tree walk / view run, so a
	// burst of identical requests against a cold cache entry doesn't
	// redo the same work once per caller.
	coalesce callgroup.Group[replycache.Fingerprint]

	// rebuilt is notified whenever the ingester finishes a rebuild or
	// merge; wired from cmd/treeserve via NotifyRebuilt so /debug/wait-rebuild
	// can block a caller until the next one happens.
	rebuilt *notify.Signal

	mu        sync.Mutex
	listeners []net.Listener
	servers   []*http.Server
	shutdown  chan struct{}
	inFlight  sync.WaitGroup
	draining  atomic.Bool
}

// New builds a Server. cfg's "view" definitions are compiled eagerly so a
// malformed view fails at startup rather than at first request.
func New(cfg *config.Config, t *tree.Tree, certMgr CertManager, logger *slog.Logger) (*Server, error) {
	log := logging.Default(logger).With("component", "httpapi")

	views := make(map[string]*view.View)
	for _, name := range cfg.ViewNames() {
		def, ok := cfg.View(name)
		if !ok {
			continue
		}
		v := view.New(log)
		if err := v.Load(cfg.Pool(), def); err != nil {
			return nil, fmt.Errorf("httpapi: view %q: %w", name, err)
		}
		views[name] = v
	}

	rcSpec, err := cfg.ReplyCache()
	if err != nil {
		return nil, err
	}
	cache := replycache.New(replycache.Config{Rows: rcSpec.Rows, Cols: rcSpec.Columns})

	return &Server{
		log:      log,
		tree:     t,
		cfg:      cfg,
		views:    views,
		cache:    cache,
		certMgr:  certMgr,
		debug:    cfg.ExposeDebugAPIs(),
		shutdown: make(chan struct{}),
		rebuilt:  notify.NewSignal(),
	}, nil
}

// NotifyRebuilt wakes any caller blocked in /debug/wait-rebuild. The
// process that wires an Ingester to this Server calls it from an
// ingest.Listener closure.
func (s *Server) NotifyRebuilt() {
	s.rebuilt.Notify()
}

// RebuildGeneration returns the number of rebuilds/merges NotifyRebuilt has
// reported so far, so a caller (the /info endpoint, or a test) can tell
// whether one happened without blocking.
func (s *Server) RebuildGeneration() uint64 {
	return s.rebuilt.Generation()
}

// ListenAndServe starts one http.Server per "listen" spec (§6.5) and
// blocks until ctx is canceled or a listener fails, then drains and
// closes every server it started.
func (s *Server) ListenAndServe(ctx context.Context) error {
	specs, err := s.cfg.Listen()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.New("httpapi: no \"listen\" specs configured")
	}

	handler := s.trackingMiddleware(s.buildMux())

	errCh := make(chan error, len(specs))
	for _, spec := range specs {
		addr := fmt.Sprintf("%s:%d", spec.Host, spec.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeAll()
			return fmt.Errorf("httpapi: listen %s: %w", addr, err)
		}
		if spec.SSL {
			if s.certMgr == nil {
				ln.Close()
				s.closeAll()
				return fmt.Errorf("httpapi: listen %s requests ssl but no certificate manager is configured", addr)
			}
			ln = tls.NewListener(ln, s.certMgr.TLSConfig())
		}

		srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.servers = append(s.servers, srv)
		s.mu.Unlock()

		s.log.Info("listening", "addr", addr, "ssl", spec.SSL)
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}(srv, ln)
	}

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		stopErr := s.Stop(context.Background())
		if err != nil {
			return err
		}
		return stopErr
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		ln.Close()
	}
}

// Stop drains in-flight requests (§5-adjacent lifecycle discipline: don't
// cut off a request mid-view-execution) then shuts every listener down.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	s.draining.Store(true)
	s.inFlight.Wait()

	s.mu.Lock()
	servers := s.servers
	s.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// trackingMiddleware tracks in-flight requests for graceful drain,
// matching the teacher's internal/server trackingMiddleware.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

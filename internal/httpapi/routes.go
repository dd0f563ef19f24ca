package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/replycache"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// errEncodeFailed marks an error as originating in buildEntry rather than
// in a tree lookup or view run, so the request handlers can pick the
// right status code after a coalesced compute returns.
var errEncodeFailed = errors.New("httpapi: encode failed")

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/tree/", s.handleGetSubtree)
	mux.HandleFunc("/view/", s.handleRunView)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	if s.debug {
		mux.HandleFunc("/info", s.handleInfo)
		mux.HandleFunc("/config", s.handleConfigDump)
		mux.HandleFunc("/testview", s.handleTestView)
		mux.HandleFunc("/debug/wait-rebuild", s.handleWaitRebuild)
		mux.HandleFunc("/debug/", s.handleDebugComponentLevel)
	}
	return mux
}

// requestOpts reads format/pretty/Accept-Encoding from the request, the
// three knobs §6.6 says "live in the HTTP layer".
func requestOpts(r *http.Request) renderOpts {
	q := r.URL.Query()
	format := q.Get("format")
	if format != "bj" {
		format = "json"
	}
	pretty, _ := strconv.ParseBool(q.Get("pretty"))
	return renderOpts{
		format:   format,
		pretty:   pretty,
		encoding: negotiateEncoding(r.Header.Get("Accept-Encoding")),
	}
}

func cacheRequest(r *http.Request, opts renderOpts) replycache.Request {
	return replycache.Request{
		URISuffix:  r.URL.RequestURI(),
		AcceptEnc:  opts.encoding,
		Pretty:     opts.pretty,
		Format:     opts.format,
		Method:     r.Method,
		AuthHeader: r.Header.Get("Authorization"),
	}
}

func (s *Server) writeEntry(w http.ResponseWriter, opts renderOpts, entry *replycache.Entry) {
	h := w.Header()
	h.Set("Content-Type", opts.contentType())
	if opts.encoding != "" {
		h.Set("Content-Encoding", opts.encoding)
		h.Set("Vary", "Accept-Encoding")
	}
	payload := entry.Payload()
	h.Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleGetSubtree is the "get_subtree(path, flags) -> ref" entry point
// (§6.6), reached as GET /tree/<json-pointer-style-path>.
func (s *Server) handleGetSubtree(w http.ResponseWriter, r *http.Request) {
	opts := requestOpts(r)
	req := cacheRequest(r, opts)
	if entry, ok := s.cache.Get(req); ok {
		s.writeEntry(w, opts, entry)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/tree")
	if path == "" {
		path = "/"
	}

	fp := req.Fingerprint()
	errCh := s.coalesce.DoChan(fp, func() error {
		p, v, err := s.tree.Get(path, 0)
		if err != nil {
			return err
		}
		defer v.Clear(p)

		entry, err := buildEntry(p, &v, opts)
		if err != nil {
			return fmt.Errorf("%w: %v", errEncodeFailed, err)
		}
		s.cache.Put(req, entry, s.cacheTTL())
		return nil
	})

	if err := <-errCh; err != nil {
		if errors.Is(err, errEncodeFailed) {
			s.log.Warn("encode failed", "path", path, "error", err)
			http.Error(w, "encode error", http.StatusInternalServerError)
		} else {
			writeTreeError(w, err)
		}
		return
	}

	entry, ok := s.cache.Get(req)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeEntry(w, opts, entry)
}

// handleRunView is the "run_view(view-name, remainder-path, vars,
// out-stream, format, pretty)" entry point (§6.6), reached as GET
// /view/<name>/<remainder>. The remainder and any query parameters are
// bound into the view as string variables ($path, $<query-key>).
func (s *Server) handleRunView(w http.ResponseWriter, r *http.Request) {
	name, remainder := splitViewPath(r.URL.Path)
	view, ok := s.views[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	opts := requestOpts(r)
	req := cacheRequest(r, opts)
	if entry, ok := s.cache.Get(req); ok {
		s.writeEntry(w, opts, entry)
		return
	}

	fp := req.Fingerprint()
	errCh := s.coalesce.DoChan(fp, func() error {
		varsPool := pool.New()
		vars := map[string]*variant.V{}
		pathVal := variant.NewString(varsPool, remainder)
		vars["path"] = &pathVal
		for key, vals := range r.URL.Query() {
			if len(vals) == 0 {
				continue
			}
			val := variant.NewString(varsPool, vals[0])
			vars[key] = &val
		}

		destPool := pool.New()
		s.tree.RLock()
		out, err := view.Produce(destPool, s.tree.Pool(), s.tree.Root(), varsPool, vars)
		s.tree.RUnlock()
		if err != nil {
			return err
		}
		defer out.Clear(destPool)

		entry, err := buildEntry(destPool, &out, opts)
		if err != nil {
			return fmt.Errorf("%w: %v", errEncodeFailed, err)
		}
		s.cache.Put(req, entry, s.cacheTTL())
		return nil
	})

	if err := <-errCh; err != nil {
		if errors.Is(err, errEncodeFailed) {
			s.log.Warn("encode failed", "view", name, "error", err)
			http.Error(w, "encode error", http.StatusInternalServerError)
		} else {
			s.log.Warn("view execution failed", "view", name, "error", err)
			http.Error(w, "view execution failed", http.StatusInternalServerError)
		}
		return
	}

	entry, ok := s.cache.Get(req)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeEntry(w, opts, entry)
}

func splitViewPath(urlPath string) (name, remainder string) {
	trimmed := strings.TrimPrefix(urlPath, "/view/")
	name, remainder, _ = strings.Cut(trimmed, "/")
	return name, remainder
}

func (s *Server) cacheTTL() time.Duration {
	spec, err := s.cfg.ReplyCache()
	if err != nil {
		return 0
	}
	return spec.MaxTime
}

func writeTreeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, variant.ErrNoSuchNode):
		http.Error(w, "no such node", http.StatusNotFound)
	case errors.Is(err, variant.ErrNotContainer), errors.Is(err, variant.ErrBadArrayIndex):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

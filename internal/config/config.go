// Package config loads treeserve's single configuration document (§6.5): a
// JSON (or BJ) tree recognizing a fixed set of top-level keys — listen
// specs, view definitions, fetcher specs, the source ingester's entry
// list, and reply-cache sizing. It is declarative and, like the teacher's
// own config package, "does not inspect records, perform routing, or
// manage lifecycle" — it hands typed values to the components that do.
//
// Unlike the teacher's Raft-backed, per-entity CRUD config store (built
// for a multi-node control plane that keeps filters/stores/routes
// individually addressable), treeserve's config is one document loaded
// whole at startup. The tree shape itself (views, sources) is load-on-
// start only, matching the teacher's own "v1 is load-on-start only"
// stance; only the config file itself supports live reload, via Watcher.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/kluzzebass/treeserve/internal/jsoncodec"
	"github.com/kluzzebass/treeserve/internal/logging"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/support"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// ListenSpec is one element of the "listen" array.
type ListenSpec struct {
	Host string
	Port int
	SSL  bool
}

// ReplyCacheSpec holds the "reply_cache.*" sizing keys.
type ReplyCacheSpec struct {
	Rows    int
	Columns int
	MaxTime time.Duration
}

// Config wraps the decoded configuration tree and its owning pool. The
// tree is kept live (rather than unmarshaled into Go structs) because
// "view" and "fetch" definitions are themselves variant trees consumed
// directly by internal/view and the fetcher constructors.
type Config struct {
	pool *pool.Pool
	root variant.V
	log  *slog.Logger
}

// Load reads path, decoding JSON or BJ by content (internal/jsoncodec's
// format autodetection — §6.4), and validates the recognized top-level
// keys. logger may be nil.
func Load(path string, logger *slog.Logger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	p := pool.New()
	root, err := jsoncodec.DecodeAuto(f, p)
	if err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}
	if root.Kind() != variant.Map {
		return nil, fmt.Errorf("config: %q: root must be an object", path)
	}

	c := &Config{pool: p, root: root, log: logging.Default(logger).With("component", "config")}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Pool returns the pool backing every variant.V this Config hands out.
// Callers that clone values out of it (view.Load, fetcher construction)
// must clone into their own pool via treeop.Merge or variant's deep-copy
// helpers, not retain pointers past the Config's lifetime.
func (c *Config) Pool() *pool.Pool { return c.pool }

// Root returns the whole decoded configuration tree.
func (c *Config) Root() *variant.V { return &c.root }

func (c *Config) lookup(key string) (*variant.V, bool) {
	h, ok := c.pool.Lookup(key)
	if !ok {
		return nil, false
	}
	return c.root.MapData().GetNoFetch(h)
}

// nested resolves a dotted path like "sources.list" against nested maps.
func (c *Config) nested(path ...string) (*variant.V, bool) {
	cur := &c.root
	for _, seg := range path {
		if cur.Kind() != variant.Map {
			return nil, false
		}
		h, ok := c.pool.Lookup(seg)
		if !ok {
			return nil, false
		}
		next, ok := cur.MapData().GetNoFetch(h)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Listen returns the "listen" array of listener specs.
func (c *Config) Listen() ([]ListenSpec, error) {
	v, ok := c.lookup("listen")
	if !ok {
		return nil, nil
	}
	if v.Kind() != variant.Array {
		return nil, fmt.Errorf("config: \"listen\" must be an array")
	}
	specs := make([]ListenSpec, 0, v.Len())
	for i := range v.Elems() {
		e := v.Elem(i)
		if e.Kind() != variant.Map {
			return nil, fmt.Errorf("config: listen[%d] must be an object", i)
		}
		var s ListenSpec
		if host, ok := mapLookup(c.pool, e, "host"); ok {
			s.Host, _ = host.Str(c.pool)
		}
		if port, ok := mapLookup(c.pool, e, "port"); ok {
			s.Port = int(intOf(port))
		}
		if ssl, ok := mapLookup(c.pool, e, "ssl"); ok && ssl.Kind() == variant.Bool {
			s.SSL = ssl.Bool()
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// ListenThreads returns "listen_threads", defaulting to 2×runtime.NumCPU(),
// clamped to a minimum of 5 (§6.5).
func (c *Config) ListenThreads() int {
	if v, ok := c.lookup("listen_threads"); ok {
		n := int(intOf(v))
		if n >= 5 {
			return n
		}
		return 5
	}
	n := 2 * runtime.NumCPU()
	if n < 5 {
		n = 5
	}
	return n
}

// ExposeDebugAPIs returns "expose_debug_apis" (default false).
func (c *Config) ExposeDebugAPIs() bool {
	v, ok := c.lookup("expose_debug_apis")
	return ok && v.Kind() == variant.Bool && v.Bool()
}

// View returns the raw definition for "view"[name], for internal/view.Load
// to compile. The returned value lives in c.Pool().
func (c *Config) View(name string) (*variant.V, bool) {
	return c.nested("view", name)
}

// ViewNames lists every key under "view".
func (c *Config) ViewNames() []string {
	v, ok := c.lookup("view")
	if !ok || v.Kind() != variant.Map {
		return nil
	}
	var names []string
	v.MapData().Iterate(func(e variant.Entry) bool {
		if s, _, ok := c.pool.Get(e.Key); ok {
			names = append(names, s)
		}
		return true
	})
	return names
}

// Fetch returns the raw fetcher spec for "fetch"[path].
func (c *Config) Fetch(path string) (*variant.V, bool) {
	return c.nested("fetch", path)
}

// SourceEntries returns the raw, unparsed "sources.list" variant for the
// caller to hand to ingest.ParseEntries (as Validate does).
func (c *Config) SourceEntries() (*variant.V, bool) {
	return c.nested("sources", "list")
}

// SourcesPurgeEvery returns "sources.purgeEvery", or 0 if absent.
func (c *Config) SourcesPurgeEvery() (time.Duration, error) {
	v, ok := c.nested("sources", "purgeEvery")
	if !ok {
		return 0, nil
	}
	s, ok := v.Str(c.pool)
	if !ok {
		return 0, fmt.Errorf("config: \"sources.purgeEvery\" must be a duration string")
	}
	return support.ParseDuration(s)
}

// SourcesDirectory returns "sources.directory", or "" if absent.
func (c *Config) SourcesDirectory() string {
	v, ok := c.nested("sources", "directory")
	if !ok {
		return ""
	}
	s, _ := v.Str(c.pool)
	return s
}

// TLSCertSpec names one entry under "tls.certs": either a PEM pair or a
// file pair (file paths take precedence, matching internal/cert.CertSource).
type TLSCertSpec struct {
	CertFile, KeyFile string
	CertPEM, KeyPEM   string
}

// TLS returns "tls.default_cert" and the "tls.certs" map, for a
// CertManager (internal/cert.Manager) backing any "listen[].ssl" entry.
// Absent "tls" yields ("", nil, nil) — ssl listeners then fail at startup
// with no certificate manager configured.
func (c *Config) TLS() (defaultCert string, certs map[string]TLSCertSpec, err error) {
	v, ok := c.nested("tls", "default_cert")
	if ok {
		defaultCert, _ = v.Str(c.pool)
	}

	list, ok := c.nested("tls", "certs")
	if !ok {
		return defaultCert, nil, nil
	}
	if list.Kind() != variant.Map {
		return "", nil, fmt.Errorf("config: \"tls.certs\" must be an object")
	}

	certs = make(map[string]TLSCertSpec)
	var iterErr error
	list.MapData().Iterate(func(e variant.Entry) bool {
		name, _, ok := c.pool.Get(e.Key)
		if !ok || e.Value.Kind() != variant.Map {
			iterErr = fmt.Errorf("config: \"tls.certs\" entries must be objects")
			return false
		}
		var spec TLSCertSpec
		if f, ok := mapLookup(c.pool, e.Value, "cert_file"); ok {
			spec.CertFile, _ = f.Str(c.pool)
		}
		if f, ok := mapLookup(c.pool, e.Value, "key_file"); ok {
			spec.KeyFile, _ = f.Str(c.pool)
		}
		if f, ok := mapLookup(c.pool, e.Value, "cert_pem"); ok {
			spec.CertPEM, _ = f.Str(c.pool)
		}
		if f, ok := mapLookup(c.pool, e.Value, "key_pem"); ok {
			spec.KeyPEM, _ = f.Str(c.pool)
		}
		certs[name] = spec
		return true
	})
	if iterErr != nil {
		return "", nil, iterErr
	}
	return defaultCert, certs, nil
}

// Env returns the "env" map as a plain Go map for passing to exec entries.
func (c *Config) Env() (map[string]string, error) {
	v, ok := c.lookup("env")
	if !ok {
		return nil, nil
	}
	if v.Kind() != variant.Map {
		return nil, fmt.Errorf("config: \"env\" must be an object")
	}
	out := make(map[string]string)
	var iterErr error
	v.MapData().Iterate(func(e variant.Entry) bool {
		key, _, ok := c.pool.Get(e.Key)
		if !ok {
			iterErr = fmt.Errorf("config: \"env\" key no longer interned")
			return false
		}
		s, ok := e.Value.Str(c.pool)
		if !ok {
			iterErr = fmt.Errorf("config: \"env.%s\" must be a string", key)
			return false
		}
		out[key] = s
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// ReplyCache returns the "reply_cache.*" sizing keys, zero-valued if absent.
func (c *Config) ReplyCache() (ReplyCacheSpec, error) {
	var spec ReplyCacheSpec
	if v, ok := c.nested("reply_cache", "rows"); ok {
		spec.Rows = int(intOf(v))
	}
	if v, ok := c.nested("reply_cache", "columns"); ok {
		spec.Columns = int(intOf(v))
	}
	if v, ok := c.nested("reply_cache", "maxtime"); ok {
		s, ok := v.Str(c.pool)
		if !ok {
			return spec, fmt.Errorf("config: \"reply_cache.maxtime\" must be a duration string")
		}
		d, err := support.ParseDuration(s)
		if err != nil {
			return spec, fmt.Errorf("config: \"reply_cache.maxtime\": %w", err)
		}
		spec.MaxTime = d
	}
	return spec, nil
}

func mapLookup(p *pool.Pool, m *variant.V, key string) (*variant.V, bool) {
	h, ok := p.Lookup(key)
	if !ok {
		return nil, false
	}
	return m.MapData().GetNoFetch(h)
}

// intOf reads an Int, Uint, or Float (truncated) as an int64; any other
// kind yields 0, including a String, so a number written as a decimal
// string is not parsed.
func intOf(v *variant.V) int64 {
	switch v.Kind() {
	case variant.Int:
		return v.IntVal()
	case variant.Uint:
		return int64(v.UintVal())
	case variant.Float:
		return int64(v.FloatVal())
	default:
		return 0
	}
}

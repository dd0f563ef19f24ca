package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kluzzebass/treeserve/internal/bj"
	"github.com/kluzzebass/treeserve/internal/jsoncodec"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/replycache"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// renderOpts carries the per-request choices §6.6 leaves to the HTTP
// layer: output format, pretty-printing, and the negotiated
// Content-Encoding.
type renderOpts struct {
	format   string // "json" (default) or "bj"
	pretty   bool
	encoding string // "", "br", or "gzip"
}

// contentType reports the MIME type for opts.format.
func (o renderOpts) contentType() string {
	if o.format == "bj" {
		return "application/octet-stream"
	}
	return "application/json"
}

// encode is the HTTP layer's "encode(out-stream, ref, compression)" entry
// point (§6.6): serialize v (backed by p) per opts, then compress.
func encode(p *pool.Pool, v *variant.V, opts renderOpts) ([]byte, error) {
	var buf bytes.Buffer
	switch opts.format {
	case "bj":
		if err := bj.Encode(&buf, p, v, bj.DefaultOptions()); err != nil {
			return nil, fmt.Errorf("httpapi: bj encode: %w", err)
		}
	default:
		if err := jsoncodec.Encode(&buf, p, v); err != nil {
			return nil, fmt.Errorf("httpapi: json encode: %w", err)
		}
		if opts.pretty {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err != nil {
				return nil, fmt.Errorf("httpapi: pretty-print: %w", err)
			}
			buf = pretty
		}
	}

	payload, err := compressPayload(opts.encoding, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("httpapi: compress: %w", err)
	}
	return payload, nil
}

// buildEntry runs encode and wraps the result as a reply-cache Entry with
// no reserved header space — net/http's ResponseWriter already separates
// the header write from the body write, so there is nothing for
// Entry.SpliceHeader to splice into here (it exists for a raw-socket HTTP
// layer, which this is not).
func buildEntry(p *pool.Pool, v *variant.V, opts renderOpts) (*replycache.Entry, error) {
	payload, err := encode(p, v, opts)
	if err != nil {
		return nil, err
	}
	return replycache.NewEntry(0, payload), nil
}

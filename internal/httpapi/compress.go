package httpapi

import (
	"bytes"
	"compress/gzip"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// brotliDynamicQuality favors latency over ratio for per-request bodies,
// matching the teacher's internal/server compress.go.
const brotliDynamicQuality = 4

var gzipWriterPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

// brotliPool is a channel-based bounded pool, ported from the teacher's
// compress.go: sync.Pool evicts every GC cycle, which would otherwise
// reallocate each writer's internal window on every request.
var brotliPool = func() chan *brotli.Writer {
	size := max(runtime.GOMAXPROCS(0), 4)
	return make(chan *brotli.Writer, size)
}()

func getBrotliWriter(dst io.Writer) *brotli.Writer {
	select {
	case w := <-brotliPool:
		w.Reset(dst)
		return w
	default:
		return brotli.NewWriterLevel(dst, brotliDynamicQuality)
	}
}

func putBrotliWriter(w *brotli.Writer) {
	w.Reset(io.Discard)
	select {
	case brotliPool <- w:
	default:
	}
}

// negotiateEncoding picks the HTTP layer's own compression choice from
// Accept-Encoding (§6.6 "compression negotiation... live in the HTTP
// layer"), preferring brotli over gzip, matching the teacher's ordering.
func negotiateEncoding(acceptEncoding string) string {
	switch {
	case acceptsEncoding(acceptEncoding, "br"):
		return "br"
	case acceptsEncoding(acceptEncoding, "gzip"):
		return "gzip"
	default:
		return ""
	}
}

func acceptsEncoding(header, encoding string) bool {
	for _, part := range strings.Split(header, ",") {
		if enc, _, _ := strings.Cut(strings.TrimSpace(part), ";"); enc == encoding {
			return true
		}
	}
	return false
}

// compressPayload compresses payload whole, since the result (not a
// stream) is what gets cached under the reply-cache's fingerprint — the
// cache has to store the already-negotiated encoding's bytes, not a
// handler-side stream wrapper.
func compressPayload(encoding string, payload []byte) ([]byte, error) {
	switch encoding {
	case "br":
		var buf bytes.Buffer
		w := getBrotliWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			putBrotliWriter(w)
			return nil, err
		}
		err := w.Close()
		putBrotliWriter(w)
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "gzip":
		var buf bytes.Buffer
		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(&buf)
		if _, err := gz.Write(payload); err != nil {
			gzipWriterPool.Put(gz)
			return nil, err
		}
		err := gz.Close()
		gzipWriterPool.Put(gz)
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return payload, nil
	}
}

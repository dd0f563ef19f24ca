package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/kluzzebass/treeserve/internal/jsoncodec"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// pull runs one entry's input and decodes its output (§4.10 step 3: "run
// the input, parse it as JSON (format autodetected between text JSON and
// BJ)"). The returned pool backs the returned value exclusively; callers
// own it and must Clear it.
func (in *Ingester) pull(ctx context.Context, e Entry) (*pool.Pool, variant.V, error) {
	switch e.Kind {
	case KindLoad:
		return pullLoad(e.Args[0])
	case KindExec:
		return pullExec(ctx, e.Args)
	case KindKafka:
		return in.pullKafka(ctx, e.Args)
	default:
		return nil, variant.V{}, fmt.Errorf("ingest: unknown entry kind %v", e.Kind)
	}
}

// pullLoad reads a file, transparently unwrapping a .zst-compressed stream
// (§6.1 "zstd-wrapped byte streams"), and decodes its contents.
func pullLoad(path string) (*pool.Pool, variant.V, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, variant.V{}, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	p := pool.New()
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, variant.V{}, fmt.Errorf("zstd reader for %q: %w", path, err)
		}
		defer zr.Close()
		v, err := jsoncodec.DecodeAuto(zr, p)
		if err != nil {
			return nil, variant.V{}, fmt.Errorf("decode %q: %w", path, err)
		}
		return p, v, nil
	}

	v, err := jsoncodec.DecodeAuto(f, p)
	if err != nil {
		return nil, variant.V{}, fmt.Errorf("decode %q: %w", path, err)
	}
	return p, v, nil
}

// pullExec spawns a subprocess and decodes its stdout. Tree locks must
// never be held across this call (§5 "No lock held across external I/O");
// callers are responsible for that.
func pullExec(ctx context.Context, argv []string) (*pool.Pool, variant.V, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, variant.V{}, fmt.Errorf("stdout pipe for %q: %w", argv[0], err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, variant.V{}, fmt.Errorf("start %q: %w", argv[0], err)
	}

	p := pool.New()
	v, decodeErr := jsoncodec.DecodeAuto(out, p)
	waitErr := cmd.Wait()

	if waitErr != nil {
		return nil, variant.V{}, fmt.Errorf("run %q: %w", argv[0], waitErr)
	}
	if decodeErr != nil {
		return nil, variant.V{}, fmt.Errorf("decode output of %q: %w", argv[0], decodeErr)
	}
	return p, v, nil
}

package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// startupCheckTimeout bounds each check subprocess (mxsources.cpp runs its
// checks synchronously at startup with no explicit bound, but an unbounded
// startup check can hang a deploy forever; we cap it).
const startupCheckTimeout = 10 * time.Second

// RunStartupChecks runs "<argv> --check" for every exec entry marked
// Check, discarding its output and only looking at the exit code (§4.10
// step 1, SPEC_FULL.md §5 "Source check sub-mode detail"). It returns
// ErrStartupCheckFailed, wrapped with the failing entries, if any check
// fails; the caller (server startup) should abort in that case.
func RunStartupChecks(ctx context.Context, entries []Entry, log *slog.Logger) error {
	var failed []string
	for _, e := range entries {
		if e.Kind != KindExec || !e.Check {
			continue
		}
		if err := runCheck(ctx, e); err != nil {
			log.Error("startup check failed", "entry", e.String(), "error", err)
			failed = append(failed, e.String())
			continue
		}
		log.Info("startup check ok", "entry", e.String())
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrStartupCheckFailed, failed)
	}
	return nil
}

func runCheck(ctx context.Context, e Entry) error {
	cctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	args := append(append([]string(nil), e.Args[1:]...), "--check")
	cmd := exec.CommandContext(cctx, e.Args[0], args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

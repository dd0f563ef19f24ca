// Package sysmetrics tracks process-level resource usage for treeserve's
// /info endpoint: CPU, memory, and goroutine counts an operator can use to
// judge whether a long-running ingest-and-serve process is healthy without
// attaching a profiler.
package sysmetrics

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Metrics is a single point-in-time read of process resource usage.
type Metrics struct {
	CPUPercent   float64
	MemoryInuse  int64
	NumGoroutine int
}

// Tracker computes CPU percentage incrementally between calls, so two
// Snapshot calls a second apart read "usage over the last second" rather
// than "usage since process start". A Tracker is safe for concurrent use.
// treeserve keeps exactly one (see Snapshot/CPUPercent below), but nothing
// here assumes a singleton.
type Tracker struct {
	mu       sync.Mutex
	lastWall time.Time
	lastUser time.Duration
	lastSys  time.Duration
	lastCPU  float64
}

// NewTracker returns a Tracker primed with the process's current rusage, so
// the first CPUPercent call reports usage since the Tracker was constructed
// rather than since process start.
func NewTracker() *Tracker {
	t := &Tracker{lastWall: time.Now()}
	t.lastUser, t.lastSys = getrusageTimes()
	return t
}

// CPUPercent returns the process CPU usage as a percentage (0–100+) of wall
// time elapsed since the Tracker's last call. Multi-core processes can
// exceed 100%.
func (t *Tracker) CPUPercent() float64 {
	now := time.Now()
	utime, stime := getrusageTimes()

	t.mu.Lock()
	defer t.mu.Unlock()

	wall := now.Sub(t.lastWall)
	if wall <= 0 {
		return t.lastCPU
	}

	cpuDelta := (utime - t.lastUser) + (stime - t.lastSys)
	pct := float64(cpuDelta) / float64(wall) * 100.0

	t.lastWall = now
	t.lastUser = utime
	t.lastSys = stime
	t.lastCPU = pct

	return pct
}

// Snapshot reads CPU, memory, and goroutine count together, so a caller
// building a single /info response doesn't need three separate calls (and
// a near-simultaneous CPUPercent/MemoryInuse pair reading two different
// instants of a changing process).
func (t *Tracker) Snapshot() Metrics {
	return Metrics{
		CPUPercent:   t.CPUPercent(),
		MemoryInuse:  MemoryInuse(),
		NumGoroutine: runtime.NumGoroutine(),
	}
}

// MemoryInuse returns the memory actively in use by the Go runtime, in
// bytes. This is HeapInuse (live heap spans) plus StackInuse (goroutine
// stacks), excluding virtual address space reserved but not committed.
func MemoryInuse() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapInuse + m.StackInuse)
}

func getrusageTimes() (user, sys time.Duration) {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0, 0
	}
	user = time.Duration(rusage.Utime.Nano())
	sys = time.Duration(rusage.Stime.Nano())
	return user, sys
}

// process is the Tracker used by treeserve's own debug endpoints; most
// callers want this one rather than constructing their own.
var process = NewTracker()

// CPUPercent returns process CPU usage using the shared process Tracker.
func CPUPercent() float64 { return process.CPUPercent() }

// Snapshot returns a Metrics reading from the shared process Tracker.
func Snapshot() Metrics { return process.Snapshot() }

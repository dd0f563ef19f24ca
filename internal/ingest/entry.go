package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/support"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// Kind names how an input entry obtains its data (§4.10, §6.5 "sources.list").
type Kind int

const (
	KindLoad Kind = iota
	KindExec
	KindKafka
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindExec:
		return "exec"
	case KindKafka:
		return "kafka"
	default:
		return "unknown"
	}
}

// Entry is one parsed "sources.list" element: where to pull a subtree
// from, how often, and whether it must pass a startup check.
type Entry struct {
	ID    uuid.UUID
	Kind  Kind
	Args  []string // argv for exec/kafka ("brokers,topic,group"); path for load
	Every time.Duration
	Check bool
}

// String names the entry the way log lines should: by its first argument,
// matching the original's error-reporting convention (mxsources.cpp uses
// entry.args[0] throughout).
func (e Entry) String() string {
	if len(e.Args) == 0 {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s %q", e.Kind, e.Args[0])
}

// ParseEntries reads the "sources.list" array (§6.5): each element is a
// single-kind Map with exactly one of "exec" (string or array of strings),
// "load" (string) or "kafka" (string or array of strings), plus optional
// "every" and "check".
func ParseEntries(p *pool.Pool, list *variant.V) ([]Entry, error) {
	if list == nil || list.Kind() != variant.Array {
		return nil, fmt.Errorf("ingest: \"sources.list\" must be an array")
	}
	entries := make([]Entry, 0, list.Len())
	for i := range list.Elems() {
		e, err := parseEntry(p, list.Elem(i))
		if err != nil {
			return nil, fmt.Errorf("ingest: entry[%d]: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(p *pool.Pool, m *variant.V) (Entry, error) {
	if m.Kind() != variant.Map {
		return Entry{}, fmt.Errorf("entry must be a map")
	}
	e := Entry{ID: uuid.New()}

	if execVal, ok := lookupKey(p, m, "exec"); ok {
		e.Kind = KindExec
		e.Check = true
		args, err := stringOrArray(p, execVal)
		if err != nil {
			return Entry{}, fmt.Errorf("\"exec\": %w", err)
		}
		e.Args = args
	} else if loadVal, ok := lookupKey(p, m, "load"); ok {
		e.Kind = KindLoad
		s, ok := loadVal.Str(p)
		if !ok {
			return Entry{}, fmt.Errorf("\"load\" must be a string path")
		}
		e.Args = []string{s}
	} else if kafkaVal, ok := lookupKey(p, m, "kafka"); ok {
		e.Kind = KindKafka
		args, err := stringOrArray(p, kafkaVal)
		if err != nil {
			return Entry{}, fmt.Errorf("\"kafka\": %w", err)
		}
		e.Args = args
	} else {
		return Entry{}, ErrNoArgs
	}

	if len(e.Args) == 0 {
		return Entry{}, ErrNoArgs
	}

	if checkVal, ok := lookupKey(p, m, "check"); ok && checkVal.Kind() == variant.Bool {
		e.Check = checkVal.Bool()
	}

	if everyVal, ok := lookupKey(p, m, "every"); ok {
		s, ok := everyVal.Str(p)
		if !ok {
			return Entry{}, fmt.Errorf("\"every\" must be a duration string")
		}
		d, err := support.ParseDuration(s)
		if err != nil {
			return Entry{}, fmt.Errorf("\"every\": %w", err)
		}
		e.Every = d
	}

	return e, nil
}

func lookupKey(p *pool.Pool, m *variant.V, key string) (*variant.V, bool) {
	h, ok := p.Lookup(key)
	if !ok {
		return nil, false
	}
	return m.MapData().GetNoFetch(h)
}

func stringOrArray(p *pool.Pool, v *variant.V) ([]string, error) {
	if s, ok := v.Str(p); ok {
		return []string{s}, nil
	}
	if v.Kind() != variant.Array {
		return nil, fmt.Errorf("must be a string or an array of strings")
	}
	out := make([]string, 0, v.Len())
	for i := range v.Elems() {
		s, ok := v.Elem(i).Str(p)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
		out = append(out, s)
	}
	return out, nil
}

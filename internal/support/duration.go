// Package support collects small cross-cutting utilities (duration
// parsing, a non-cryptographic PRNG) used by more than one component,
// grounded on the original implementation's util.cpp helpers.
package support

import (
	"fmt"
	"strings"
	"time"
)

// unit multipliers, in the order the original's strToDurationMS_NN checks
// them: h, m (or ms if followed by 's'), s, d.
var durationUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseDuration parses a concatenation of number+unit pairs such as
// "2h30m5s" or "1d" (§6.5 "Durations are parsed with units d h m s ms,
// concatenable"). An empty string parses to zero. Unlike
// time.ParseDuration, this recognizes a bare "d" (day) unit and requires
// every byte of s to be consumed by some pair.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	var total time.Duration
	for len(s) > 0 {
		n, rest, err := leadingNumber(s)
		if err != nil {
			return 0, fmt.Errorf("support: bad duration %q: %w", orig, err)
		}
		unit, rest2, err := leadingUnit(rest)
		if err != nil {
			return 0, fmt.Errorf("support: bad duration %q: %w", orig, err)
		}
		total += time.Duration(n) * unit
		s = rest2
	}
	return total, nil
}

func leadingNumber(s string) (int64, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, fmt.Errorf("expected a number at %q", s)
	}
	var n int64
	for _, c := range s[:i] {
		n = n*10 + int64(c-'0')
	}
	return n, s[i:], nil
}

func leadingUnit(s string) (time.Duration, string, error) {
	if len(s) == 0 {
		return 0, s, fmt.Errorf("missing unit")
	}
	if strings.HasPrefix(s, "ms") {
		return time.Millisecond, s[2:], nil
	}
	u, ok := durationUnits[s[0]]
	if !ok {
		return 0, s, fmt.Errorf("unrecognized unit %q", s[:1])
	}
	return u, s[1:], nil
}

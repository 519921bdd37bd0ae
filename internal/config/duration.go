package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with the config file's duration grammar:
// a sequence of <int><unit> pairs, summed, with units ns|us|ms|s|m|h|d|w|M|y
// (aliases: sec->s, min->m, hr->h) and accepting a bare integer as seconds.
type Duration time.Duration

var durationTermRe = regexp.MustCompile(`^(\d+)([a-zA-Z]*)$`)

var durationUnits = map[string]time.Duration{
	"ns":  time.Nanosecond,
	"us":  time.Microsecond,
	"ms":  time.Millisecond,
	"s":   time.Second,
	"sec": time.Second,
	"m":   time.Minute,
	"min": time.Minute,
	"h":   time.Hour,
	"hr":  time.Hour,
	"d":   24 * time.Hour,
	"w":   7 * 24 * time.Hour,
	"M":   30 * 24 * time.Hour,
	"y":   365 * 24 * time.Hour,
}

// ParseDuration parses the config duration grammar described in spec.md §6.3.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Bare integer means seconds.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	var total time.Duration
	rest := s
	for len(rest) > 0 {
		m := consumeDurationTerm(&rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		unit, ok := durationUnits[m[2]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, m[2])
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

// consumeDurationTerm greedily finds the leading run of digits and letters,
// consumes it from *rest, and returns the match (full, digits, unit).
func consumeDurationTerm(rest *string) []string {
	i := 0
	for i < len(*rest) && (*rest)[i] >= '0' && (*rest)[i] <= '9' {
		i++
	}
	if i == 0 {
		return nil
	}
	j := i
	for j < len(*rest) && (((*rest)[j] >= 'a' && (*rest)[j] <= 'z') || ((*rest)[j] >= 'A' && (*rest)[j] <= 'Z')) {
		j++
	}
	term := (*rest)[:j]
	*rest = (*rest)[j:]
	return durationTermRe.FindStringSubmatch(term)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

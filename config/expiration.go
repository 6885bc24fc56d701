package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DefaultExpiration is the lifetime of cache entries when none is configured.
const DefaultExpiration = 36 * time.Hour

// ParseExpiration converts a configured cache expiration into a duration.
//
// Accepted forms are numbers (seconds), numeric strings ("3600"), Go
// durations ("90m", "1h30m") and a leading day count ("2d", "1d12h").
// nil and the empty string yield DefaultExpiration.
func ParseExpiration(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return DefaultExpiration, nil
	case time.Duration:
		return positive(val, v)
	case string:
		return parseExpirationString(val)
	}

	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("invalid expiration %v: %w", v, err)
	}
	return positive(time.Duration(secs*float64(time.Second)), v)
}

func parseExpirationString(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultExpiration, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return positive(time.Duration(secs*float64(time.Second)), s)
	}

	var total time.Duration
	if days, rest, found := strings.Cut(s, "d"); found {
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil {
			return 0, fmt.Errorf("invalid expiration %q: bad day count", raw)
		}
		total = time.Duration(n) * 24 * time.Hour
		s = strings.TrimSpace(rest)
	}
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid expiration %q: %w", raw, err)
		}
		total += d
	}
	return positive(total, raw)
}

func positive(d time.Duration, raw any) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("invalid expiration %v: must be positive", raw)
	}
	return d, nil
}

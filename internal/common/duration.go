package common

import (
	"fmt"
	"strings"
	"time"
)

// Duration is a time.Duration written in config files as a Go duration string, e.g. "20s"
type Duration time.Duration

// UnmarshalText parses a duration string such as "250ms" or "1m30s"
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration back in the same string form
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

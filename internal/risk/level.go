package risk

import (
	"fmt"
	"strings"
)

// Level is an ordered risk level.
type Level uint8

const (
	Low Level = iota
	Medium
	High
	Critical
)

var levelNames = [...]string{"low", "medium", "high", "critical"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// ParseLevel parses a level name. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return Low, fmt.Errorf("unknown risk level %q", s)
}

// AtLeast reports whether l is at or above min.
func (l Level) AtLeast(min Level) bool { return l >= min }

// Escalate returns the next level up, saturating at Critical.
func (l Level) Escalate() Level {
	if l >= Critical {
		return Critical
	}
	return l + 1
}

// Max returns the highest of the given levels, or Low for none.
func Max(levels ...Level) Level {
	out := Low
	for _, l := range levels {
		if l > out {
			out = l
		}
	}
	return out
}

func (l Level) MarshalText() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("invalid risk level %d", uint8(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

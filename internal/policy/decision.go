package policy

import (
	"fmt"
	"strings"
)

// Decision is a verdict on the lattice allow < confirm < deny.
type Decision uint8

const (
	Allow Decision = iota
	Confirm
	Deny
)

var decisionNames = [...]string{"allow", "confirm", "deny"}

func (d Decision) String() string {
	if int(d) < len(decisionNames) {
		return decisionNames[d]
	}
	return fmt.Sprintf("decision(%d)", uint8(d))
}

// ParseDecision parses a decision name.
func ParseDecision(s string) (Decision, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range decisionNames {
		if n == name {
			return Decision(i), nil
		}
	}
	return Deny, fmt.Errorf("unknown decision %q", s)
}

// MaxDecision returns the more restrictive of a and b.
func MaxDecision(a, b Decision) Decision {
	if b > a {
		return b
	}
	return a
}

func (d Decision) MarshalText() ([]byte, error) {
	if int(d) >= len(decisionNames) {
		return nil, fmt.Errorf("invalid decision %d", uint8(d))
	}
	return []byte(decisionNames[d]), nil
}

func (d *Decision) UnmarshalText(b []byte) error {
	parsed, err := ParseDecision(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

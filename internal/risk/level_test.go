package risk

import (
	"encoding/json"
	"testing"
)

func TestLevelOrderingAndParsing(t *testing.T) {
	if !(Low < Medium && Medium < High && High < Critical) {
		t.Fatalf("levels out of order")
	}
	for _, name := range []string{"low", "medium", "high", "critical"} {
		l, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if l.String() != name {
			t.Fatalf("round trip %s -> %s", name, l)
		}
	}
	if l, err := ParseLevel(" HIGH "); err != nil || l != High {
		t.Fatalf("expected case-insensitive parse, got %v %v", l, err)
	}
	if _, err := ParseLevel("severe"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestEscalateSaturates(t *testing.T) {
	if Low.Escalate() != Medium || High.Escalate() != Critical || Critical.Escalate() != Critical {
		t.Fatalf("unexpected escalation")
	}
	if Max() != Low || Max(Medium, Critical, Low) != Critical {
		t.Fatalf("unexpected max")
	}
}

func TestLevelJSON(t *testing.T) {
	out, err := json.Marshal(map[string]Level{"risk": High})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"risk":"high"}` {
		t.Fatalf("unexpected json %s", out)
	}
	var back map[string]Level
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["risk"] != High {
		t.Fatalf("unexpected level %v", back["risk"])
	}
}

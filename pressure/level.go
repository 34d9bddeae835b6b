package pressure

import (
	"fmt"
	"strings"
)

// Level classifies memory usage against the budget.
type Level int

const (
	OK Level = iota
	Warning
	Critical
	Emergency
)

func (l Level) String() string {
	switch l {
	case OK:
		return "ok"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Emergency:
		return "emergency"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel is the inverse of Level.String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok":
		return OK, nil
	case "warning":
		return Warning, nil
	case "critical":
		return Critical, nil
	case "emergency":
		return Emergency, nil
	}
	return OK, fmt.Errorf("pressure: unknown level %q", s)
}

// Thresholds are usage ratios at which each level begins.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// DefaultThresholds are 70%, 80% and 90% of the budget.
var DefaultThresholds = Thresholds{Warning: 0.70, Critical: 0.80, Emergency: 0.90}

// Classify maps a usage ratio to a level.
func (t Thresholds) Classify(ratio float64) Level {
	switch {
	case ratio >= t.Emergency:
		return Emergency
	case ratio >= t.Critical:
		return Critical
	case ratio >= t.Warning:
		return Warning
	default:
		return OK
	}
}

func (t Thresholds) valid() bool {
	return 0 < t.Warning && t.Warning < t.Critical && t.Critical < t.Emergency && t.Emergency <= 1
}

// Action is one cleanup step.
type Action string

const (
	ActionSoftTrim            Action = "soft_trim"
	ActionAggressiveEvict     Action = "aggressive_evict"
	ActionReleaseUnreferenced Action = "release_unreferenced"
	ActionFullClear           Action = "full_clear"
	ActionReleaseAll          Action = "release_all"
)

// Actions lists the cleanup steps for l in execution order. Each level
// runs everything the level below it runs.
func Actions(l Level) []Action {
	var out []Action
	if l >= Warning {
		out = append(out, ActionSoftTrim)
	}
	if l >= Critical {
		out = append(out, ActionAggressiveEvict, ActionReleaseUnreferenced)
	}
	if l >= Emergency {
		out = append(out, ActionFullClear, ActionReleaseAll)
	}
	return out
}

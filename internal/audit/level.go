package audit

import (
	"fmt"
	"strings"
)

// Level is the severity of an audit entry. Levels are ordered:
// INFO < WARNING < ERROR.
type Level string

// Severity levels.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Levels lists every level from least to most severe.
var Levels = []Level{LevelInfo, LevelWarning, LevelError}

// ParseLevel accepts a level name in any case. "WARN" is accepted as an
// alias for WARNING.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Rank orders levels; an unknown level ranks below INFO.
func (l Level) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	}
	return 0
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool { return l.Rank() > 0 }

// AtLeast returns every level at or above l.
func (l Level) AtLeast() []Level {
	var out []Level
	for _, lv := range Levels {
		if lv.Rank() >= l.Rank() {
			out = append(out, lv)
		}
	}
	return out
}

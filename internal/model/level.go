package model

import (
	"fmt"
	"strings"
)

// Level is the severity tier of a risk verdict.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// levelRank maps levels to a comparable integer for highest-wins resolution.
var levelRank = map[Level]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// Levels lists all tiers in ascending severity.
var Levels = []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Rank returns the ordinal of the level. Unknown levels rank as low.
func (l Level) Rank() int {
	return levelRank[l]
}

// Valid reports whether l is one of the four known tiers.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// ParseLevel parses a level name in any case. Unknown names return an error
// and LevelLow.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return LevelLow, fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Flag is one piece of evidence, tagged with the tier of the rule that produced it.
type Flag struct {
	Level    Level  `json:"level"`
	Evidence string `json:"evidence"`
}

// String renders the flag as "[HIGH] evidence".
func (f Flag) String() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(f.Level)), f.Evidence)
}

// Verdict is the classifier output for a single record.
type Verdict struct {
	Level Level  `json:"level"`
	Flags []Flag `json:"flags"`
	Score int    `json:"score"`
}

// NewVerdict builds a verdict with a consistent score.
func NewVerdict(level Level, flags []Flag) Verdict {
	if flags == nil {
		flags = []Flag{}
	}
	return Verdict{Level: level, Flags: flags, Score: level.Rank()}
}

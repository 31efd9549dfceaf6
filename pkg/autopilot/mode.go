package autopilot

import (
	"fmt"
	"strings"
)

// Mode identifies one autopilot behavior.
type Mode int

const (
	CancelRotation Mode = iota
	OrientationMatch
	PointToPosition
	CancelLinearMotion
	GoToPosition

	modeCount
)

// Group is a set of mutually exclusive modes.
type Group int

const (
	RotationGroup Group = iota
	TranslationGroup
)

func (g Group) String() string {
	if g == RotationGroup {
		return "rotation"
	}
	return "translation"
}

var modeTable = [modeCount]struct {
	name  string
	group Group
}{
	CancelRotation:     {"cancelRotation", RotationGroup},
	OrientationMatch:   {"orientationMatch", RotationGroup},
	PointToPosition:    {"pointToPosition", RotationGroup},
	CancelLinearMotion: {"cancelLinearMotion", TranslationGroup},
	GoToPosition:       {"goToPosition", TranslationGroup},
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	out := make([]Mode, modeCount)
	for i := range out {
		out[i] = Mode(i)
	}
	return out
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= 0 && m < modeCount
}

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeTable[m].name
}

// Group returns the exclusivity group of m.
func (m Mode) Group() Group {
	return modeTable[m].group
}

// ParseMode looks a mode up by name, ignoring case.
func ParseMode(s string) (Mode, error) {
	for i, entry := range modeTable {
		if strings.EqualFold(entry.name, s) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown autopilot mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid autopilot mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TargetPoint selects which point of a target craft is tracked.
type TargetPoint int

const (
	PointCenter TargetPoint = iota
	PointFrontPort
	PointBackPort
)

var targetPointNames = [...]string{"center", "front-port", "back-port"}

func (p TargetPoint) String() string {
	if p < 0 || int(p) >= len(targetPointNames) {
		return fmt.Sprintf("TargetPoint(%d)", int(p))
	}
	return targetPointNames[p]
}

// ParseTargetPoint looks a target point up by name.
func ParseTargetPoint(s string) (TargetPoint, error) {
	for i, name := range targetPointNames {
		if strings.EqualFold(name, s) {
			return TargetPoint(i), nil
		}
	}
	return 0, fmt.Errorf("unknown target point %q", s)
}

package spacecraft

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/validation"
)

// Action is something a key can be bound to.
type Action string

// Manual thrust actions are held; the others fire once on key down.
const (
	ThrustForward  Action = "thrust_forward"
	ThrustBackward Action = "thrust_backward"
	ThrustLeft     Action = "thrust_left"
	ThrustRight    Action = "thrust_right"
	ThrustUp       Action = "thrust_up"
	ThrustDown     Action = "thrust_down"
	PitchUp        Action = "pitch_up"
	PitchDown      Action = "pitch_down"
	YawLeft        Action = "yaw_left"
	YawRight       Action = "yaw_right"
	RollLeft       Action = "roll_left"
	RollRight      Action = "roll_right"

	ToggleCancelRotation     Action = "toggle_cancel_rotation"
	ToggleOrientationMatch   Action = "toggle_orientation_match"
	TogglePointToPosition    Action = "toggle_point_to_position"
	ToggleCancelLinearMotion Action = "toggle_cancel_linear_motion"
	ToggleGoToPosition       Action = "toggle_go_to_position"
	ToggleAutopilot          Action = "toggle_autopilot"
	CancelDocking            Action = "cancel_docking"
)

// manualAxis is the unit body-frame wrench of a held thrust action.
type manualAxis struct {
	force  mgl64.Vec3
	torque mgl64.Vec3
}

var manualAxes = map[Action]manualAxis{
	ThrustForward:  {force: mgl64.Vec3{0, 0, 1}},
	ThrustBackward: {force: mgl64.Vec3{0, 0, -1}},
	ThrustRight:    {force: mgl64.Vec3{1, 0, 0}},
	ThrustLeft:     {force: mgl64.Vec3{-1, 0, 0}},
	ThrustUp:       {force: mgl64.Vec3{0, 1, 0}},
	ThrustDown:     {force: mgl64.Vec3{0, -1, 0}},
	PitchUp:        {torque: mgl64.Vec3{-1, 0, 0}},
	PitchDown:      {torque: mgl64.Vec3{1, 0, 0}},
	YawRight:       {torque: mgl64.Vec3{0, 1, 0}},
	YawLeft:        {torque: mgl64.Vec3{0, -1, 0}},
	RollLeft:       {torque: mgl64.Vec3{0, 0, 1}},
	RollRight:      {torque: mgl64.Vec3{0, 0, -1}},
}

var modeActions = map[Action]autopilot.Mode{
	ToggleCancelRotation:     autopilot.CancelRotation,
	ToggleOrientationMatch:   autopilot.OrientationMatch,
	TogglePointToPosition:    autopilot.PointToPosition,
	ToggleCancelLinearMotion: autopilot.CancelLinearMotion,
	ToggleGoToPosition:       autopilot.GoToPosition,
}

// Held reports whether a is a manual thrust action.
func (a Action) Held() bool {
	_, ok := manualAxes[a]
	return ok
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	if a.Held() {
		return true
	}
	_, ok := modeActions[a]
	return ok || a == ToggleAutopilot || a == CancelDocking
}

// KeyBindings maps input key codes to actions.
type KeyBindings map[string]Action

// DefaultKeyBindings returns the stock keyboard layout.
func DefaultKeyBindings() KeyBindings {
	return KeyBindings{
		"KeyW": ThrustForward,
		"KeyS": ThrustBackward,
		"KeyA": ThrustLeft,
		"KeyD": ThrustRight,
		"KeyR": ThrustUp,
		"KeyF": ThrustDown,
		"KeyK": PitchUp,
		"KeyI": PitchDown,
		"KeyJ": YawLeft,
		"KeyL": YawRight,
		"KeyU": RollLeft,
		"KeyO": RollRight,

		"Digit1": ToggleCancelRotation,
		"Digit2": ToggleOrientationMatch,
		"Digit3": TogglePointToPosition,
		"Digit4": ToggleCancelLinearMotion,
		"Digit5": ToggleGoToPosition,
		"KeyT":   ToggleAutopilot,
		"KeyX":   CancelDocking,
	}
}

// MarshalJSON writes the bindings grouped by action, each with its sorted
// key codes. Actions are lowercase, so the form survives case-folding
// config loaders.
func (k KeyBindings) MarshalJSON() ([]byte, error) {
	byAction := make(map[Action][]string)
	for code, a := range k {
		byAction[a] = append(byAction[a], code)
	}
	for _, codes := range byAction {
		sort.Strings(codes)
	}
	return json.Marshal(byAction)
}

// UnmarshalJSON reads the form written by MarshalJSON. A single code may
// be given as a plain string.
func (k *KeyBindings) UnmarshalJSON(data []byte) error {
	var raw map[Action]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(KeyBindings)
	for a, msg := range raw {
		var codes []string
		if err := json.Unmarshal(msg, &codes); err != nil {
			var code string
			if err := json.Unmarshal(msg, &code); err != nil {
				return fmt.Errorf("action %s: key codes must be a string or a list", a)
			}
			codes = strings.Split(code, ",")
		}
		for _, code := range codes {
			if code = strings.TrimSpace(code); code != "" {
				out[code] = a
			}
		}
	}
	*k = out
	return nil
}

// Validate checks every key code and action. Errors are reported in key
// order so the message is stable.
func (k KeyBindings) Validate() error {
	codes := make([]string, 0, len(k))
	for code := range k {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		if err := validation.ValidateKeyCode(code); err != nil {
			return err
		}
		if a := k[code]; !a.Valid() {
			return fmt.Errorf("key %s: unknown action %q", code, a)
		}
	}
	return nil
}

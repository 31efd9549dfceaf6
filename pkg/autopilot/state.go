package autopilot

import "github.com/go-gl/mathgl/mgl64"

// State is the mirrorable part of an autopilot: its modes and targets.
// Controllers and smoothing state stay with each craft.
type State struct {
	Modes             map[Mode]bool
	TargetPosition    mgl64.Vec3
	TargetOrientation mgl64.Quat
	TargetVelocity    mgl64.Vec3
	TargetID          uint64
	TargetPoint       TargetPoint
	TrackOrientation  bool
	Mirror            bool
	Follow            bool
}

// Active reports whether m is switched on in s.
func (s State) Active(m Mode) bool {
	return s.Modes[m]
}

// Snapshot captures the autopilot's modes and targets.
func (a *Autopilot) Snapshot() State {
	modes := make(map[Mode]bool, modeCount)
	for m, on := range a.modes {
		if on {
			modes[Mode(m)] = true
		}
	}
	return State{
		Modes:             modes,
		TargetPosition:    a.targetPosition,
		TargetOrientation: a.targetOrientation,
		TargetVelocity:    a.targetVelocity,
		TargetID:          a.targetID,
		TargetPoint:       a.targetPoint,
		TrackOrientation:  a.trackOrientation,
		Mirror:            a.mirror,
		Follow:            a.follow,
	}
}

// Apply replaces the autopilot's modes and targets with s. Mode changes
// notify observers and reset the affected controllers as EnableMode and
// DisableMode would; unchanged modes keep their controller state.
func (a *Autopilot) Apply(s State) {
	for _, g := range []Group{RotationGroup, TranslationGroup} {
		var want Mode = -1
		for m := range a.modes {
			if Mode(m).Group() == g && s.Modes[Mode(m)] {
				want = Mode(m)
				break
			}
		}
		if want < 0 {
			for m := range a.modes {
				if Mode(m).Group() == g {
					a.setMode(Mode(m), false)
				}
			}
			continue
		}
		a.EnableMode(want)
	}

	a.targetPosition = s.TargetPosition
	if s.TargetOrientation.Len() > 0 {
		a.targetOrientation = s.TargetOrientation.Normalize()
	}
	a.targetVelocity = s.TargetVelocity
	if s.TargetID != a.id {
		a.targetID = s.TargetID
	}
	a.targetPoint = s.TargetPoint
	a.trackOrientation = s.TrackOrientation
	a.mirror = s.Mirror
	a.follow = s.Follow
}

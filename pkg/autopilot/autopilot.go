// Package autopilot implements the guidance layer of a spacecraft: it holds
// the target pose, runs the rotation and translation control laws for the
// active modes, and hands the resulting wrench to a thruster allocator.
//
// Modes are organised in two exclusive groups. At most one rotation mode and
// one translation mode are active at any time; enabling a mode switches off
// whichever mode of its group was active. The autopilot is enabled exactly
// when some mode is active.
package autopilot

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/logging"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
	"github.com/opd-ai/go-rendezvous/pkg/pid"
	"github.com/opd-ai/go-rendezvous/pkg/thruster"
)

// Target is the live view of a craft that the autopilot can track.
type Target interface {
	State() physics.State
	// TargetPoint returns the world position of the selected point.
	TargetPoint(p TargetPoint) mgl64.Vec3
}

// Resolver turns a target handle into a live craft. It reports false once
// the craft no longer exists; the autopilot never holds the craft itself.
type Resolver interface {
	ResolveTarget(id uint64) (Target, bool)
}

// ModeObserver is called after a mode is switched on or off.
type ModeObserver func(mode Mode, active bool)

// Autopilot is the per-craft guidance state. It is driven from the
// simulation goroutine and is not safe for concurrent use.
type Autopilot struct {
	id          uint64
	cfg         Config
	halfExtents mgl64.Vec3
	alloc       thruster.Allocator
	resolver    Resolver
	logger      *logging.Logger
	observers   []ModeObserver

	modes [modeCount]bool

	targetPosition    mgl64.Vec3
	targetOrientation mgl64.Quat
	targetVelocity    mgl64.Vec3
	targetID          uint64
	targetPoint       TargetPoint
	trackOrientation  bool
	mirror            bool
	// targetOrientation is a leader-derived attitude held as given
	follow bool

	orientationPID *pid.Controller
	linearPID      *pid.Controller
	momentumPID    *pid.Controller

	// smoothed world-frame wrench from the previous tick
	force  mgl64.Vec3
	torque mgl64.Vec3

	thrustScale      float64
	allocFailed      bool
	orientationError float64
	positionError    float64
}

// New creates an idle autopilot for the craft with the given id. The hull
// half extents feed the inertia estimate; alloc turns wrenches into
// thruster commands.
func New(id uint64, cfg Config, halfExtents mgl64.Vec3, alloc thruster.Allocator) *Autopilot {
	return &Autopilot{
		id:                id,
		cfg:               cfg,
		halfExtents:       halfExtents,
		alloc:             alloc,
		targetOrientation: mgl64.QuatIdent(),
		orientationPID:    pid.New(cfg.Orientation),
		linearPID:         pid.New(cfg.Linear),
		momentumPID:       pid.New(cfg.Momentum),
		thrustScale:       1,
	}
}

// SetResolver installs the lookup used for target objects.
func (a *Autopilot) SetResolver(r Resolver) {
	a.resolver = r
}

// SetLogger installs the logger used for degraded-operation warnings.
func (a *Autopilot) SetLogger(l *logging.Logger) {
	a.logger = l
}

// AddObserver registers fn to be told about every mode change.
func (a *Autopilot) AddObserver(fn ModeObserver) {
	a.observers = append(a.observers, fn)
}

// ID returns the id of the craft the autopilot belongs to.
func (a *Autopilot) ID() uint64 {
	return a.id
}

// Config returns the autopilot configuration.
func (a *Autopilot) Config() Config {
	return a.cfg
}

// SetTargetPosition sets a fixed target position and drops any target
// object.
func (a *Autopilot) SetTargetPosition(p mgl64.Vec3) {
	a.targetPosition = physics.Sanitize(p)
	a.targetID = 0
}

// SetTargetOrientation sets a fixed target orientation and stops tracking
// the target object's orientation.
func (a *Autopilot) SetTargetOrientation(q mgl64.Quat) {
	if q.Len() < physics.Epsilon {
		q = mgl64.QuatIdent()
	}
	a.targetOrientation = q.Normalize()
	a.trackOrientation = false
	a.follow = false
}

// SetTargetVelocity sets the velocity of the target point, used as a
// feed-forward term by goToPosition.
func (a *Autopilot) SetTargetVelocity(v mgl64.Vec3) {
	a.targetVelocity = physics.Sanitize(v)
}

// SetTargetObject makes the craft with the given id the live target. The
// target position follows the selected point of that craft every tick.
// Targeting the own craft is refused. An id of 0 clears the target object.
func (a *Autopilot) SetTargetObject(id uint64) bool {
	if id != 0 && id == a.id {
		return false
	}
	a.targetID = id
	return true
}

// SetTargetPoint selects which point of the target object is tracked.
func (a *Autopilot) SetTargetPoint(p TargetPoint) {
	a.targetPoint = p
}

// SetTrackOrientation makes the target orientation follow the target
// object's orientation.
func (a *Autopilot) SetTrackOrientation(track bool) {
	a.trackOrientation = track
	if track {
		a.follow = false
	}
}

// SetMirror makes orientationMatch face the target orientation instead of
// copying it.
func (a *Autopilot) SetMirror(mirror bool) {
	a.mirror = mirror
}

// SetFollow makes orientationMatch and pointToPosition hold the target
// orientation exactly, without mirroring or pointing. Docked partners use
// it to hold the attitude that keeps them aligned with the leader's.
func (a *Autopilot) SetFollow(follow bool) {
	a.follow = follow
}

// Following reports whether the target orientation is held as given.
func (a *Autopilot) Following() bool {
	return a.follow
}

// TargetPosition returns the current or last known target position.
func (a *Autopilot) TargetPosition() mgl64.Vec3 {
	return a.targetPosition
}

// TargetOrientation returns the current target orientation.
func (a *Autopilot) TargetOrientation() mgl64.Quat {
	return a.targetOrientation
}

// TargetObject returns the target object handle, if one is set.
func (a *Autopilot) TargetObject() (uint64, bool) {
	return a.targetID, a.targetID != 0
}

// SetThrustScale multiplies the force and torque limits, used when the
// craft is part of a heavier docked cluster.
func (a *Autopilot) SetThrustScale(scale float64) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	a.thrustScale = scale
}

// ThrustScale returns the current limit multiplier.
func (a *Autopilot) ThrustScale() float64 {
	return a.thrustScale
}

// Wrench returns the smoothed world-frame force and torque of the last tick.
func (a *Autopilot) Wrench() (mgl64.Vec3, mgl64.Vec3) {
	return a.force, a.torque
}

// OrientationError returns the angle to the desired orientation at the
// last tick, or 0 when no orientation mode ran.
func (a *Autopilot) OrientationError() float64 {
	return a.orientationError
}

// PositionError returns the distance to the target position at the last
// tick, or 0 when goToPosition did not run.
func (a *Autopilot) PositionError() float64 {
	return a.positionError
}

// IsActive reports whether mode m is active.
func (a *Autopilot) IsActive(m Mode) bool {
	return m.Valid() && a.modes[m]
}

// ActiveModes returns the active modes in declaration order.
func (a *Autopilot) ActiveModes() []Mode {
	var out []Mode
	for m, on := range a.modes {
		if on {
			out = append(out, Mode(m))
		}
	}
	return out
}

// Enabled reports whether any mode is active.
func (a *Autopilot) Enabled() bool {
	for _, on := range a.modes {
		if on {
			return true
		}
	}
	return false
}

// EnableMode activates m and deactivates the other modes of its group.
func (a *Autopilot) EnableMode(m Mode) {
	if !m.Valid() || a.modes[m] {
		return
	}
	for other := range a.modes {
		if Mode(other) != m && Mode(other).Group() == m.Group() {
			a.setMode(Mode(other), false)
		}
	}
	a.setMode(m, true)
}

// DisableMode deactivates m.
func (a *Autopilot) DisableMode(m Mode) {
	if m.Valid() {
		a.setMode(m, false)
	}
}

// ToggleMode flips m.
func (a *Autopilot) ToggleMode(m Mode) {
	if a.IsActive(m) {
		a.DisableMode(m)
	} else {
		a.EnableMode(m)
	}
}

// SetEnabled(false) switches every mode off; the next tick produces zero
// output. SetEnabled(true) engages cancelRotation and cancelLinearMotion
// when no mode is active, holding the craft still.
func (a *Autopilot) SetEnabled(enabled bool) {
	if !enabled {
		for m := range a.modes {
			a.setMode(Mode(m), false)
		}
		return
	}
	if !a.Enabled() {
		a.EnableMode(CancelRotation)
		a.EnableMode(CancelLinearMotion)
	}
}

// Reset returns the autopilot to quiescence: all modes off, target object
// and feed-forward cleared, controllers and smoothing state zeroed.
func (a *Autopilot) Reset() {
	a.SetEnabled(false)
	a.targetID = 0
	a.trackOrientation = false
	a.follow = false
	a.targetVelocity = mgl64.Vec3{}
	a.resetControllers(RotationGroup)
	a.resetControllers(TranslationGroup)
	a.force, a.torque = mgl64.Vec3{}, mgl64.Vec3{}
}

func (a *Autopilot) setMode(m Mode, on bool) {
	if a.modes[m] == on {
		return
	}
	a.modes[m] = on
	a.resetControllers(m.Group())
	if !a.Enabled() {
		a.force, a.torque = mgl64.Vec3{}, mgl64.Vec3{}
	}
	for _, fn := range a.observers {
		fn(m, on)
	}
}

func (a *Autopilot) resetControllers(g Group) {
	if g == RotationGroup {
		a.orientationPID.Reset()
		a.momentumPID.Reset()
		return
	}
	a.linearPID.Reset()
}

func (a *Autopilot) active(g Group) (Mode, bool) {
	for m, on := range a.modes {
		if on && Mode(m).Group() == g {
			return Mode(m), true
		}
	}
	return 0, false
}

// CalculateAutopilotForces runs one guidance tick for a craft in state s
// and returns one command per thruster in Newtons. The result is all zero
// when no mode is active or when allocation fails.
func (a *Autopilot) CalculateAutopilotForces(ctx context.Context, s physics.State, dt float64) []float64 {
	var n int
	if a.alloc != nil {
		n = a.alloc.Len()
	}
	zero := make([]float64, n)
	if dt <= 0 {
		dt = physics.MinTimeStep
	}

	a.resolveTarget(ctx)
	if !a.Enabled() {
		a.force, a.torque = mgl64.Vec3{}, mgl64.Vec3{}
		a.orientationError, a.positionError = 0, 0
		return zero
	}
	if s.Orientation.Len() < physics.Epsilon {
		s.Orientation = mgl64.QuatIdent()
	}

	torque := a.rotationLaw(s, dt)
	force := a.translationLaw(s, dt)

	alpha := physics.Clamp(a.cfg.Smoothing, 0, 1)
	a.force = physics.Sanitize(physics.LerpVec(a.force, force, alpha))
	a.torque = physics.Sanitize(physics.LerpVec(a.torque, torque, alpha))

	if a.alloc == nil {
		return zero
	}
	toLocal := s.Orientation.Inverse()
	duties, err := a.alloc.Allocate(toLocal.Rotate(a.force), toLocal.Rotate(a.torque))
	if err != nil {
		if !a.allocFailed {
			a.logger.Warn(ctx, "thruster allocation failed, commanding zero thrust",
				"craft", a.id, "force", a.force, "torque", a.torque, "error", err.Error())
		}
		a.allocFailed = true
		return zero
	}
	a.allocFailed = false
	return duties
}

func (a *Autopilot) resolveTarget(ctx context.Context) {
	if a.targetID == 0 || a.resolver == nil {
		return
	}
	t, ok := a.resolver.ResolveTarget(a.targetID)
	if !ok {
		a.logger.Warn(ctx, "autopilot target no longer exists, holding last known position",
			"craft", a.id, "target", a.targetID, "position", a.targetPosition)
		a.targetID = 0
		return
	}
	a.targetPosition = physics.Sanitize(t.TargetPoint(a.targetPoint))
	if a.trackOrientation {
		if q := t.State().Orientation; q.Len() > physics.Epsilon {
			a.targetOrientation = q.Normalize()
		}
	}
}

// DesiredOrientation returns the attitude the active rotation mode steers
// toward from state s. It reports false when neither orientationMatch nor
// pointToPosition is active.
func (a *Autopilot) DesiredOrientation(s physics.State) (mgl64.Quat, bool) {
	m, ok := a.active(RotationGroup)
	if !ok || (m != OrientationMatch && m != PointToPosition) {
		return a.targetOrientation, false
	}
	return a.desiredOrientation(m, s), true
}

func (a *Autopilot) desiredOrientation(m Mode, s physics.State) mgl64.Quat {
	if a.follow {
		return a.targetOrientation
	}
	if m == PointToPosition {
		dir := a.targetPosition.Sub(s.Position)
		if dir.Len() < a.cfg.Epsilon {
			return s.Orientation
		}
		return physics.LookRotation(dir, s.Orientation.Rotate(mgl64.Vec3{0, 1, 0}))
	}
	q := a.targetOrientation
	if a.mirror {
		q = q.Mul(mgl64.QuatRotate(math.Pi, mgl64.Vec3{0, 1, 0})).Normalize()
	}
	return q
}

// DesiredAngularVelocity returns the angular rate commanded to rotate by
// errQ: the shortest-path axis scaled by the clamped orientation gain.
func (a *Autopilot) DesiredAngularVelocity(errQ mgl64.Quat) mgl64.Vec3 {
	axis, angle := physics.ShortestAxisAngle(errQ)
	if angle < a.cfg.Epsilon {
		return mgl64.Vec3{}
	}
	return axis.Mul(math.Min(a.cfg.OrientationGain*angle, a.cfg.MaxAngularRate))
}

func (a *Autopilot) rotationLaw(s physics.State, dt float64) mgl64.Vec3 {
	a.orientationError = 0
	m, ok := a.active(RotationGroup)
	if !ok {
		return mgl64.Vec3{}
	}
	inertia := physics.ScalarInertia(s.Mass, a.halfExtents)
	momentum := s.AngularVelocity.Mul(inertia)

	var torque mgl64.Vec3
	switch m {
	case CancelRotation:
		torque = a.momentumPID.Update(momentum.Mul(-1), dt)
	case OrientationMatch, PointToPosition:
		errQ := physics.QuatError(a.desiredOrientation(m, s), s.Orientation)
		a.orientationError = physics.RotationAngle(errQ)
		desired := a.DesiredAngularVelocity(errQ).Mul(inertia)
		torque = a.orientationPID.Update(desired.Sub(momentum), dt)
	}
	return physics.ClampLength(physics.Sanitize(torque), inertia*a.cfg.MaxAngularAccel*a.thrustScale)
}

func (a *Autopilot) translationLaw(s physics.State, dt float64) mgl64.Vec3 {
	a.positionError = 0
	m, ok := a.active(TranslationGroup)
	if !ok || s.Mass <= 0 {
		return mgl64.Vec3{}
	}

	var desired, damping mgl64.Vec3
	if m == GoToPosition {
		offset := a.targetPosition.Sub(s.Position)
		d := offset.Len()
		a.positionError = d

		var dir mgl64.Vec3
		if d > a.cfg.Epsilon {
			dir = offset.Mul(1 / d)
		}
		speed := math.Min(a.cfg.MaxSpeed, math.Min(
			math.Sqrt(2*a.cfg.BrakingAccel*d),
			a.cfg.PositionGain*d,
		))
		desired = dir.Mul(speed).Add(a.targetVelocity.Mul(a.cfg.FeedForwardGain))
		damping = physics.RejectFrom(s.LinearVelocity.Sub(desired), dir).Mul(-a.cfg.LateralDamping * s.Mass)
	}

	momentumErr := desired.Sub(s.LinearVelocity).Mul(s.Mass)
	force := a.linearPID.Update(momentumErr, dt).Add(damping)
	return physics.ClampLength(physics.Sanitize(force), s.Mass*a.cfg.MaxLinearAccel*a.thrustScale)
}

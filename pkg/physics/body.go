package physics

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

// BodyID identifies a rigid body inside a physics engine.
type BodyID uint64

// ConstraintID is the handle returned for a fixed joint between two bodies.
type ConstraintID uint64

// MinTimeStep is substituted for a zero or negative time step.
const MinTimeStep = 1.0 / 60.0

var (
	ErrUnknownBody       = errors.New("unknown body")
	ErrUnknownConstraint = errors.New("unknown constraint")
	ErrSelfConstraint    = errors.New("cannot constrain a body to itself")
)

// State is a read-only snapshot of a rigid body taken once per tick.
type State struct {
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
	Mass            float64
}

// ToWorld transforms a point given in the body frame into world coordinates.
func (s State) ToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return s.Position.Add(s.Orientation.Rotate(local))
}

// PointVelocity returns the world velocity of a world-space point rigidly
// attached to the body.
func (s State) PointVelocity(world mgl64.Vec3) mgl64.Vec3 {
	return s.LinearVelocity.Add(s.AngularVelocity.Cross(world.Sub(s.Position)))
}

// Body is the per-vehicle surface of the physics collaborator. The control
// core only reads snapshots and issues force or impulse commands through it.
// Implementations must queue calls made while the engine is stepping and apply
// them after the step completes.
type Body interface {
	ID() BodyID
	State() State
	ApplyForce(force mgl64.Vec3)
	ApplyForceAt(force, worldPoint mgl64.Vec3)
	ApplyImpulse(impulse mgl64.Vec3)
	ApplyImpulseAt(impulse, worldPoint mgl64.Vec3)
}

// Frame is a pose expressed in a body's local frame.
type Frame struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// Joints creates and removes the fixed constraints used for docking.
type Joints interface {
	CreateFixedConstraint(a, b BodyID, frameA, frameB Frame) (ConstraintID, error)
	RemoveConstraint(id ConstraintID) error
}

// BodySpec describes a body to be added to a World.
type BodySpec struct {
	Mass            float64
	HalfExtents     mgl64.Vec3
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// RigidBody is a World-owned body integrated with semi-implicit Euler and a
// diagonal box inertia tensor.
type RigidBody struct {
	id    BodyID
	world *World

	mass       float64
	inertia    mgl64.Vec3 // body frame principal moments
	invInertia mgl64.Vec3

	position        mgl64.Vec3
	orientation     mgl64.Quat
	linearVelocity  mgl64.Vec3
	angularVelocity mgl64.Vec3

	force  mgl64.Vec3
	torque mgl64.Vec3
}

func newRigidBody(id BodyID, w *World, spec BodySpec) *RigidBody {
	q := spec.Orientation
	if q.Len() < Epsilon {
		q = mgl64.QuatIdent()
	}
	inertia := BoxInertia(spec.Mass, spec.HalfExtents)
	var inv mgl64.Vec3
	for i, v := range inertia {
		if v > Epsilon {
			inv[i] = 1 / v
		}
	}
	return &RigidBody{
		id:              id,
		world:           w,
		mass:            spec.Mass,
		inertia:         inertia,
		invInertia:      inv,
		position:        spec.Position,
		orientation:     q.Normalize(),
		linearVelocity:  spec.LinearVelocity,
		angularVelocity: spec.AngularVelocity,
	}
}

// ID returns the body's handle.
func (b *RigidBody) ID() BodyID {
	return b.id
}

// State returns a snapshot of the body.
func (b *RigidBody) State() State {
	return State{
		Position:        b.position,
		Orientation:     b.orientation,
		LinearVelocity:  b.linearVelocity,
		AngularVelocity: b.angularVelocity,
		Mass:            b.mass,
	}
}

// ApplyForce accumulates a force through the center of mass for the next step.
func (b *RigidBody) ApplyForce(force mgl64.Vec3) {
	b.world.exec(func() {
		b.force = b.force.Add(force)
	})
}

// ApplyForceAt accumulates a force applied at a world-space point.
func (b *RigidBody) ApplyForceAt(force, worldPoint mgl64.Vec3) {
	b.world.exec(func() {
		b.force = b.force.Add(force)
		b.torque = b.torque.Add(worldPoint.Sub(b.position).Cross(force))
	})
}

// ApplyImpulse changes the linear momentum immediately.
func (b *RigidBody) ApplyImpulse(impulse mgl64.Vec3) {
	b.world.exec(func() {
		if b.mass > 0 {
			b.linearVelocity = b.linearVelocity.Add(impulse.Mul(1 / b.mass))
		}
	})
}

// ApplyImpulseAt changes linear and angular momentum immediately.
func (b *RigidBody) ApplyImpulseAt(impulse, worldPoint mgl64.Vec3) {
	b.world.exec(func() {
		if b.mass > 0 {
			b.linearVelocity = b.linearVelocity.Add(impulse.Mul(1 / b.mass))
		}
		angular := worldPoint.Sub(b.position).Cross(impulse)
		b.angularVelocity = b.angularVelocity.Add(b.applyInvInertia(angular))
	})
}

// applyInvInertia maps a world-frame angular quantity through the inverse
// inertia tensor, which is diagonal in the body frame.
func (b *RigidBody) applyInvInertia(v mgl64.Vec3) mgl64.Vec3 {
	local := b.orientation.Inverse().Rotate(v)
	local = mgl64.Vec3{local[0] * b.invInertia[0], local[1] * b.invInertia[1], local[2] * b.invInertia[2]}
	return b.orientation.Rotate(local)
}

func (b *RigidBody) scalarInertia() float64 {
	return b.inertia[0] + b.inertia[1] + b.inertia[2]
}

func (b *RigidBody) integrate(dt float64) {
	if b.mass > 0 {
		b.linearVelocity = b.linearVelocity.Add(b.force.Mul(dt / b.mass))
	}
	b.angularVelocity = b.angularVelocity.Add(b.applyInvInertia(b.torque).Mul(dt))

	b.position = b.position.Add(b.linearVelocity.Mul(dt))

	spin := mgl64.Quat{W: 0, V: b.angularVelocity}.Mul(b.orientation).Scale(0.5 * dt)
	b.orientation = b.orientation.Add(spin).Normalize()

	b.force = mgl64.Vec3{}
	b.torque = mgl64.Vec3{}
}

package physics

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// StepCallback runs inside World.Step after integration and before
// constraints are solved. State-mutating calls made from a callback are
// queued and applied once the step has finished.
type StepCallback func(w *World, dt float64)

type fixedConstraint struct {
	id     ConstraintID
	a, b   BodyID
	frameA Frame
	frameB Frame

	// pose of b expressed in a's frame at creation time
	relPosition    mgl64.Vec3
	relOrientation mgl64.Quat
}

// World is a minimal rigid-body engine implementing the physics collaborator
// contract: bodies, force accumulation, fixed joints and the queue-and-flush
// rule for calls issued during a step. It is not thread-safe; the simulation
// drives it from a single goroutine.
type World struct {
	bodies      map[BodyID]*RigidBody
	constraints map[ConstraintID]*fixedConstraint
	callbacks   []StepCallback

	nextBody       uint64
	nextConstraint uint64

	stepping bool
	pending  []func()
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		bodies:      make(map[BodyID]*RigidBody),
		constraints: make(map[ConstraintID]*fixedConstraint),
	}
}

// exec runs fn now, or queues it when the world is in the middle of a step.
func (w *World) exec(fn func()) {
	if w.stepping {
		w.pending = append(w.pending, fn)
		return
	}
	fn()
}

// Pending returns the number of calls waiting for the current step to finish.
func (w *World) Pending() int {
	return len(w.pending)
}

// AddBody creates a body from spec and returns it.
func (w *World) AddBody(spec BodySpec) *RigidBody {
	w.nextBody++
	id := BodyID(w.nextBody)
	b := newRigidBody(id, w, spec)
	w.bodies[id] = b
	return b
}

// Body looks up a body by id.
func (w *World) Body(id BodyID) (*RigidBody, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

// RemoveBody deletes a body and every constraint attached to it.
func (w *World) RemoveBody(id BodyID) error {
	if _, ok := w.bodies[id]; !ok {
		return fmt.Errorf("remove body %d: %w", id, ErrUnknownBody)
	}
	w.exec(func() {
		for cid, c := range w.constraints {
			if c.a == id || c.b == id {
				delete(w.constraints, cid)
			}
		}
		delete(w.bodies, id)
	})
	return nil
}

// AddStepCallback registers fn to run during every step.
func (w *World) AddStepCallback(fn StepCallback) {
	w.callbacks = append(w.callbacks, fn)
}

// CreateFixedConstraint welds b to a, preserving their current relative pose.
// The frames record the attachment points in each body's local frame.
func (w *World) CreateFixedConstraint(a, b BodyID, frameA, frameB Frame) (ConstraintID, error) {
	if a == b {
		return 0, ErrSelfConstraint
	}
	ba, ok := w.bodies[a]
	if !ok {
		return 0, fmt.Errorf("constraint body %d: %w", a, ErrUnknownBody)
	}
	bb, ok := w.bodies[b]
	if !ok {
		return 0, fmt.Errorf("constraint body %d: %w", b, ErrUnknownBody)
	}

	w.nextConstraint++
	id := ConstraintID(w.nextConstraint)
	w.exec(func() {
		inv := ba.orientation.Inverse()
		w.constraints[id] = &fixedConstraint{
			id:             id,
			a:              a,
			b:              b,
			frameA:         frameA,
			frameB:         frameB,
			relPosition:    inv.Rotate(bb.position.Sub(ba.position)),
			relOrientation: inv.Mul(bb.orientation).Normalize(),
		}
	})
	return id, nil
}

// RemoveConstraint deletes a fixed joint.
func (w *World) RemoveConstraint(id ConstraintID) error {
	if _, ok := w.constraints[id]; !ok && !w.stepping {
		return fmt.Errorf("remove constraint %d: %w", id, ErrUnknownConstraint)
	}
	w.exec(func() {
		delete(w.constraints, id)
	})
	return nil
}

// Constrained reports whether a fixed joint with the given id exists.
func (w *World) Constrained(id ConstraintID) bool {
	_, ok := w.constraints[id]
	return ok
}

// Step advances the world by dt seconds.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		dt = MinTimeStep
	}

	w.stepping = true
	for _, id := range w.sortedBodies() {
		w.bodies[id].integrate(dt)
	}
	for _, cb := range w.callbacks {
		cb(w, dt)
	}
	w.solveConstraints()
	w.stepping = false

	w.flush()
}

func (w *World) flush() {
	// a flushed call may itself queue more work only while stepping, which
	// is no longer the case here
	pending := w.pending
	w.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (w *World) sortedBodies() []BodyID {
	ids := make([]BodyID, 0, len(w.bodies))
	for id := range w.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) solveConstraints() {
	ids := make([]ConstraintID, 0, len(w.constraints))
	for id := range w.constraints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		c := w.constraints[id]
		a, okA := w.bodies[c.a]
		b, okB := w.bodies[c.b]
		if !okA || !okB {
			continue
		}
		solveFixed(a, b, c)
	}
}

// solveFixed merges the momenta of a and b and snaps b back onto its welded
// pose relative to a, preserving the pair's center of mass.
func solveFixed(a, b *RigidBody, c *fixedConstraint) {
	total := a.mass + b.mass
	if total <= 0 {
		return
	}
	com := a.position.Mul(a.mass).Add(b.position.Mul(b.mass)).Mul(1 / total)
	vcom := a.linearVelocity.Mul(a.mass).Add(b.linearVelocity.Mul(b.mass)).Mul(1 / total)

	ia, ib := a.scalarInertia(), b.scalarInertia()
	omega := a.angularVelocity
	if ia+ib > 0 {
		omega = a.angularVelocity.Mul(ia).Add(b.angularVelocity.Mul(ib)).Mul(1 / (ia + ib))
	}

	b.orientation = a.orientation.Mul(c.relOrientation).Normalize()
	b.position = a.position.Add(a.orientation.Rotate(c.relPosition))

	shifted := a.position.Mul(a.mass).Add(b.position.Mul(b.mass)).Mul(1 / total)
	delta := com.Sub(shifted)
	a.position = a.position.Add(delta)
	b.position = b.position.Add(delta)

	a.angularVelocity = omega
	b.angularVelocity = omega
	a.linearVelocity = vcom.Add(omega.Cross(a.position.Sub(com)))
	b.linearVelocity = vcom.Add(omega.Cross(b.position.Sub(com)))
}

// Package docking sequences two spacecraft from free flight to a rigid joint
// and back. Dock and Undock change both crafts' ports together or not at
// all; the Controller drives a craft's autopilot through the approach.
package docking

import (
	"errors"
	"fmt"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

var (
	ErrPortOccupied = errors.New("docking port occupied")
	ErrSameVehicle  = errors.New("cannot dock a craft with itself")
	ErrNoPort       = errors.New("no such docking port")
	ErrNoVehicle    = errors.New("no such craft")
	ErrNotDocked    = errors.New("port is not docked")
)

// Vehicle is the view of a spacecraft that docking needs.
type Vehicle interface {
	ID() uint64
	State() physics.State
	BodyID() physics.BodyID
	Port(id PortID) *Port
	Autopilot() *autopilot.Autopilot
}

// Registry looks crafts up by id. It reports false for removed crafts.
type Registry interface {
	Vehicle(id uint64) (Vehicle, bool)
}

// Dock joins port pa of a to port pb of b. It reports false, changing
// nothing, when a precondition fails.
func Dock(joints physics.Joints, a Vehicle, pa PortID, b Vehicle, pb PortID) bool {
	_, err := TryDock(joints, a, pa, b, pb)
	return err == nil
}

// TryDock is Dock with the failure reason. On success it creates the fixed
// joint, marks both ports occupied with references to each other and
// returns both autopilots to quiescence.
func TryDock(joints physics.Joints, a Vehicle, pa PortID, b Vehicle, pb PortID) (physics.ConstraintID, error) {
	if a == nil || b == nil {
		return 0, ErrNoVehicle
	}
	if a.ID() == b.ID() {
		return 0, ErrSameVehicle
	}
	portA, portB := a.Port(pa), b.Port(pb)
	if portA == nil {
		return 0, fmt.Errorf("craft %d %s: %w", a.ID(), pa, ErrNoPort)
	}
	if portB == nil {
		return 0, fmt.Errorf("craft %d %s: %w", b.ID(), pb, ErrNoPort)
	}
	if portA.Occupied() {
		return 0, fmt.Errorf("craft %d %s: %w", a.ID(), pa, ErrPortOccupied)
	}
	if portB.Occupied() {
		return 0, fmt.Errorf("craft %d %s: %w", b.ID(), pb, ErrPortOccupied)
	}

	constraint, err := joints.CreateFixedConstraint(a.BodyID(), b.BodyID(), portA.Frame(), portB.Frame())
	if err != nil {
		return 0, fmt.Errorf("join craft %d and %d: %w", a.ID(), b.ID(), err)
	}

	portA.link = &Link{Partner: b.ID(), PartnerPort: pb, Constraint: constraint}
	portB.link = &Link{Partner: a.ID(), PartnerPort: pa, Constraint: constraint}

	quiesce(a)
	quiesce(b)
	return constraint, nil
}

// Undock releases port p of v and its partner. It reports false when the
// port is not docked.
func Undock(joints physics.Joints, reg Registry, v Vehicle, p PortID) bool {
	return TryUndock(joints, reg, v, p) == nil
}

// TryUndock is Undock with the failure reason. The joint is removed and both
// ports are cleared even when the partner craft no longer exists.
func TryUndock(joints physics.Joints, reg Registry, v Vehicle, p PortID) error {
	if v == nil {
		return ErrNoVehicle
	}
	port := v.Port(p)
	if port == nil {
		return fmt.Errorf("craft %d %s: %w", v.ID(), p, ErrNoPort)
	}
	link, ok := port.Link()
	if !ok {
		return fmt.Errorf("craft %d %s: %w", v.ID(), p, ErrNotDocked)
	}

	// a joint already dropped with a removed body is not an error here
	if err := joints.RemoveConstraint(link.Constraint); err != nil && !errors.Is(err, physics.ErrUnknownConstraint) {
		return fmt.Errorf("release craft %d %s: %w", v.ID(), p, err)
	}

	port.link = nil
	quiesce(v)
	if partner, ok := reg.Vehicle(link.Partner); ok {
		if pp := partner.Port(link.PartnerPort); pp != nil && pp.link != nil && pp.link.Partner == v.ID() {
			pp.link = nil
		}
		quiesce(partner)
	}
	return nil
}

// Release clears port p of v without touching the physics joint. The engine
// uses it when a craft is removed together with its body.
func Release(v Vehicle, p PortID) {
	if port := v.Port(p); port != nil {
		port.link = nil
	}
}

func quiesce(v Vehicle) {
	if ap := v.Autopilot(); ap != nil {
		ap.Reset()
	}
}

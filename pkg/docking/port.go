package docking

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// PortID names a docking port on a craft.
type PortID int

const (
	Front PortID = iota
	Back
)

func (p PortID) String() string {
	switch p {
	case Front:
		return "front"
	case Back:
		return "back"
	default:
		return fmt.Sprintf("PortID(%d)", int(p))
	}
}

// ParsePortID looks a port up by name.
func ParsePortID(s string) (PortID, error) {
	switch strings.ToLower(s) {
	case "front":
		return Front, nil
	case "back":
		return Back, nil
	}
	return 0, fmt.Errorf("unknown docking port %q", s)
}

// Link is the partner side of an occupied port.
type Link struct {
	Partner     uint64
	PartnerPort PortID
	Constraint  physics.ConstraintID
}

// Port is a docking attachment point fixed in the craft frame. Occupancy and
// the partner reference are held in one field so they cannot disagree.
type Port struct {
	ID       PortID
	Position mgl64.Vec3
	Normal   mgl64.Vec3
	Up       mgl64.Vec3

	link *Link
}

// StandardPorts returns the front (+Z) and back (-Z) ports of a box hull.
func StandardPorts(halfExtents mgl64.Vec3) [2]*Port {
	return [2]*Port{
		{ID: Front, Position: mgl64.Vec3{0, 0, halfExtents[2]}, Normal: mgl64.Vec3{0, 0, 1}, Up: mgl64.Vec3{0, 1, 0}},
		{ID: Back, Position: mgl64.Vec3{0, 0, -halfExtents[2]}, Normal: mgl64.Vec3{0, 0, -1}, Up: mgl64.Vec3{0, 1, 0}},
	}
}

// Occupied reports whether the port is joined to a partner.
func (p *Port) Occupied() bool {
	return p.link != nil
}

// Link returns the partner of an occupied port.
func (p *Port) Link() (Link, bool) {
	if p.link == nil {
		return Link{}, false
	}
	return *p.link, true
}

// Frame returns the port pose in the craft frame, with +Z along the normal.
func (p *Port) Frame() physics.Frame {
	return physics.Frame{
		Position:    p.Position,
		Orientation: physics.LookRotation(p.Normal, p.Up),
	}
}

// World returns the port position, outward normal and up vector in world
// coordinates for a craft in state s.
func (p *Port) World(s physics.State) (position, normal, up mgl64.Vec3) {
	return s.ToWorld(p.Position), s.Orientation.Rotate(p.Normal), s.Orientation.Rotate(p.Up)
}

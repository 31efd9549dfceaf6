package thruster

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Grouped allocates along the six sense bins computed by BuildGroups.
// Translation divides each axis force evenly over the bin; rotation divides
// each axis torque by the bin's summed lever arm so the couple delivers the
// requested torque exactly. Both contributions are clamped to capacity,
// summed per thruster and clamped again.
type Grouped struct {
	thrusters []Thruster
	caps      []float64
	groups    Groups
	levers    [3]leverPair
	epsilon   float64
}

type leverPair struct {
	positive, negative float64
}

// NewGrouped creates a grouped allocator for the given thrusters.
func NewGrouped(thrusters []Thruster, epsilon float64) *Grouped {
	if epsilon <= 0 {
		epsilon = DefaultConfig().Epsilon
	}
	g := &Grouped{
		thrusters: append([]Thruster(nil), thrusters...),
		caps:      Capacities(thrusters),
		groups:    BuildGroups(thrusters, epsilon),
		epsilon:   epsilon,
	}
	for axis := 0; axis < 3; axis++ {
		bin := g.groups.Rotation[axis]
		g.levers[axis] = leverPair{
			positive: g.leverSum(bin.Positive, axis),
			negative: g.leverSum(bin.Negative, axis),
		}
	}
	return g
}

func (g *Grouped) leverSum(indices []int, axis int) float64 {
	var sum float64
	for _, i := range indices {
		sum += math.Abs(g.thrusters[i].Torque()[axis])
	}
	return sum
}

// Groups returns the sense bins used by the allocator.
func (g *Grouped) Groups() Groups {
	return g.groups
}

// Len returns the number of thrusters.
func (g *Grouped) Len() int {
	return len(g.thrusters)
}

// Capacities returns a copy of the per-thruster capacities.
func (g *Grouped) Capacities() []float64 {
	return append([]float64(nil), g.caps...)
}

// SetCapacities replaces the per-thruster capacities.
func (g *Grouped) SetCapacities(caps []float64) error {
	if err := checkCapacities(len(g.thrusters), caps); err != nil {
		return err
	}
	for i, c := range caps {
		g.caps[i] = math.Max(0, c)
	}
	return nil
}

// Allocate returns per-thruster forces in Newtons.
func (g *Grouped) Allocate(force, torque mgl64.Vec3) ([]float64, error) {
	out := make([]float64, len(g.thrusters))
	if len(g.thrusters) == 0 {
		return out, ErrNoThrusters
	}

	translation := make([]float64, len(out))
	rotation := make([]float64, len(out))
	for axis := 0; axis < 3; axis++ {
		if c := force[axis]; math.Abs(c) > g.epsilon {
			bin := g.groups.Translation[axis]
			indices := bin.Positive
			if c < 0 {
				indices = bin.Negative
			}
			if len(indices) > 0 {
				g.assign(translation, indices, math.Abs(c)/float64(len(indices)))
			}
		}

		if c := torque[axis]; math.Abs(c) > g.epsilon {
			bin := g.groups.Rotation[axis]
			indices, lever := bin.Positive, g.levers[axis].positive
			if c < 0 {
				indices, lever = bin.Negative, g.levers[axis].negative
			}
			if len(indices) > 0 && lever > g.epsilon {
				g.assign(rotation, indices, math.Abs(c)/lever)
			}
		}
	}

	for i := range out {
		out[i] = clampDuty(translation[i]+rotation[i], g.caps[i])
	}
	return out, nil
}

func (g *Grouped) assign(dst []float64, indices []int, duty float64) {
	for _, i := range indices {
		dst[i] = clampDuty(dst[i]+duty, g.caps[i])
	}
}

func clampDuty(v, capacity float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v > capacity {
		return capacity
	}
	return v
}

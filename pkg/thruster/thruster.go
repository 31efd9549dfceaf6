// Package thruster describes reaction control thruster geometry and maps a
// desired body-frame wrench onto per-thruster force commands.
//
// Two strategies are provided. Grouped relies on the six precomputed sense
// bins of a symmetric hull and is cheap enough to run every tick.
// PseudoInverse works for arbitrary layouts by applying the Moore-Penrose
// inverse of the 6xN configuration matrix; the inverse is rebuilt whenever
// thruster geometry or capacity changes and is published atomically.
package thruster

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Count is the number of thrusters on the standard hull.
const Count = 24

var (
	// ErrNoThrusters is returned when an allocator has nothing to command.
	ErrNoThrusters = errors.New("no thrusters")
	// ErrSingular is returned when the configuration matrix cannot produce
	// an arbitrary wrench.
	ErrSingular = errors.New("thruster configuration matrix is singular")
	// ErrCapacityCount is returned when a capacity slice does not match the
	// thruster count.
	ErrCapacityCount = errors.New("capacity count does not match thruster count")
)

// Thruster is the static geometry of one thruster in the spacecraft frame.
type Thruster struct {
	// Position is the mount point relative to the center of mass.
	Position mgl64.Vec3 `json:"position"`
	// Direction is the unit exhaust direction. The thrust acts opposite.
	Direction mgl64.Vec3 `json:"direction"`
	// MaxForce is the nominal capacity in Newtons.
	MaxForce float64 `json:"maxForce"`
}

// Force returns the unit force the thruster exerts on the hull.
func (t Thruster) Force() mgl64.Vec3 {
	return t.Direction.Mul(-1)
}

// Torque returns the torque about the center of mass per Newton of thrust.
func (t Thruster) Torque() mgl64.Vec3 {
	return t.Position.Cross(t.Force())
}

// StandardLayout returns the 24-thruster arrangement of a box hull with the
// given half extents. Each of the six translation directions is served by
// four thrusters mounted at the corners of the face the exhaust leaves
// from, so every force family also forms balanced couples about the two
// perpendicular axes.
func StandardLayout(halfExtents mgl64.Vec3, maxForce float64) []Thruster {
	corners := [2]float64{1, -1}

	out := make([]Thruster, 0, Count)
	for axis := 0; axis < 3; axis++ {
		for _, sign := range corners {
			var force mgl64.Vec3
			force[axis] = sign

			// the two axes spanning the mounting face
			u, v := (axis+1)%3, (axis+2)%3
			for _, su := range corners {
				for _, sv := range corners {
					var pos mgl64.Vec3
					pos[axis] = -sign * halfExtents[axis]
					pos[u] = su * halfExtents[u]
					pos[v] = sv * halfExtents[v]
					out = append(out, Thruster{
						Position:  pos,
						Direction: force.Mul(-1),
						MaxForce:  maxForce,
					})
				}
			}
		}
	}
	return out
}

// Capacities returns the nominal MaxForce of each thruster.
func Capacities(thrusters []Thruster) []float64 {
	caps := make([]float64, len(thrusters))
	for i, t := range thrusters {
		caps[i] = t.MaxForce
	}
	return caps
}

func checkCapacities(n int, caps []float64) error {
	if len(caps) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrCapacityCount, len(caps), n)
	}
	return nil
}

// Bin holds the thruster indices that push an axis in the positive and
// negative sense.
type Bin struct {
	Positive []int `json:"positive"`
	Negative []int `json:"negative"`
}

// Axis names of the group bins, in x, y, z order.
var (
	TranslationAxes = [3]string{"right", "up", "forward"}
	RotationAxes    = [3]string{"pitch", "yaw", "roll"}
)

// Groups bins thrusters by the sign of their force and torque components.
// Within one bin array a thruster appears in at most one sense per axis.
type Groups struct {
	Translation [3]Bin `json:"translation"`
	Rotation    [3]Bin `json:"rotation"`
}

// BuildGroups classifies each thruster by the components of its unit force
// and unit torque whose magnitude exceeds epsilon.
func BuildGroups(thrusters []Thruster, epsilon float64) Groups {
	var g Groups
	for i, t := range thrusters {
		f, tau := t.Force(), t.Torque()
		for axis := 0; axis < 3; axis++ {
			classify(&g.Translation[axis], i, f[axis], epsilon)
			classify(&g.Rotation[axis], i, tau[axis], epsilon)
		}
	}
	return g
}

func classify(b *Bin, index int, component, epsilon float64) {
	switch {
	case component > epsilon:
		b.Positive = append(b.Positive, index)
	case component < -epsilon:
		b.Negative = append(b.Negative, index)
	}
}

// Allocator maps a body-frame force and torque onto per-thruster force
// commands in Newtons, each within [0, capacity].
type Allocator interface {
	// Allocate returns one command per thruster. On failure the commands
	// are all zero and the error says why.
	Allocate(force, torque mgl64.Vec3) ([]float64, error)
	// SetCapacities replaces the per-thruster capacities and re-derives
	// any state that depends on them.
	SetCapacities(caps []float64) error
	// Capacities returns a copy of the current capacities.
	Capacities() []float64
	// Len returns the number of thrusters.
	Len() int
}

// Strategy selects the allocation algorithm.
type Strategy string

const (
	StrategyGrouped       Strategy = "grouped"
	StrategyPseudoInverse Strategy = "pseudoinverse"
)

// Config configures thruster allocation.
type Config struct {
	Strategy Strategy `json:"strategy"`
	// MaxForce is the nominal per-thruster capacity in Newtons.
	MaxForce float64 `json:"maxForce"`
	// Epsilon is the magnitude below which an axis command is ignored.
	Epsilon float64 `json:"epsilon"`
	// Iterations is the number of residual refinement passes used by the
	// pseudo-inverse strategy. One pass is the plain clamped solution.
	Iterations int `json:"iterations"`
	// CacheSize bounds the number of inverses kept per allocator.
	CacheSize int `json:"cacheSize"`
}

// DefaultConfig returns the allocation defaults for the standard hull.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyGrouped,
		MaxForce:   200,
		Epsilon:    1e-6,
		Iterations: 8,
		CacheSize:  16,
	}
}

// New builds the allocator selected by cfg.Strategy.
func New(cfg Config, thrusters []Thruster) (Allocator, error) {
	switch cfg.Strategy {
	case StrategyGrouped, "":
		return NewGrouped(thrusters, cfg.Epsilon), nil
	case StrategyPseudoInverse:
		return NewPseudoInverse(thrusters, cfg)
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", cfg.Strategy)
	}
}

package docking

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// velocityProbe is the look-ahead used for the finite-difference velocity.
const velocityProbe = 1e-3

// Trajectory is a piecewise linear path through waypoints, timed so that
// each segment takes a share of the total time proportional to its length.
type Trajectory struct {
	waypoints []mgl64.Vec3
	// arrival time at each waypoint
	times    []float64
	duration float64
}

// NewTrajectory builds a trajectory through waypoints lasting totalTime
// seconds. A path of zero length stays at its first waypoint.
func NewTrajectory(waypoints []mgl64.Vec3, totalTime float64) *Trajectory {
	t := &Trajectory{
		waypoints: append([]mgl64.Vec3(nil), waypoints...),
		times:     make([]float64, len(waypoints)),
		duration:  max(totalTime, 0),
	}

	var length float64
	for i := 1; i < len(waypoints); i++ {
		length += waypoints[i].Sub(waypoints[i-1]).Len()
	}
	if length < physics.Epsilon {
		return t
	}

	var travelled float64
	for i := 1; i < len(waypoints); i++ {
		travelled += waypoints[i].Sub(waypoints[i-1]).Len()
		t.times[i] = t.duration * travelled / length
	}
	return t
}

// Duration returns the total time of the trajectory.
func (t *Trajectory) Duration() float64 {
	return t.duration
}

// End returns the final waypoint.
func (t *Trajectory) End() mgl64.Vec3 {
	if len(t.waypoints) == 0 {
		return mgl64.Vec3{}
	}
	return t.waypoints[len(t.waypoints)-1]
}

// Update returns the reference position and velocity at time at, measured
// from the start of the trajectory.
func (t *Trajectory) Update(at float64) (mgl64.Vec3, mgl64.Vec3) {
	pos := t.position(at)
	ahead := t.position(at + velocityProbe)
	return pos, ahead.Sub(pos).Mul(1 / velocityProbe)
}

func (t *Trajectory) position(at float64) mgl64.Vec3 {
	switch n := len(t.waypoints); {
	case n == 0:
		return mgl64.Vec3{}
	case n == 1 || at <= 0:
		return t.waypoints[0]
	case at >= t.duration:
		return t.waypoints[n-1]
	}
	for i := 1; i < len(t.waypoints); i++ {
		if at > t.times[i] {
			continue
		}
		span := t.times[i] - t.times[i-1]
		if span <= 0 {
			return t.waypoints[i]
		}
		return physics.LerpVec(t.waypoints[i-1], t.waypoints[i], (at-t.times[i-1])/span)
	}
	return t.End()
}

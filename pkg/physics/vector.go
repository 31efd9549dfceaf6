// pkg/physics/vector.go
package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/exp/constraints"
)

// Epsilon is the magnitude below which vectors and rotation axes are treated
// as zero by the guidance code.
const Epsilon = 1e-9

// axisEpsilon guards the sin(angle/2) division in axis-angle extraction.
const axisEpsilon = 1e-6

// Clamp limits x to the closed interval [lo, hi].
func Clamp[T constraints.Float](x, lo, hi T) T {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Lerp linearly interpolates between a and b.
func Lerp[T constraints.Float](a, b, t T) T {
	return a + (b-a)*t
}

// LerpVec linearly interpolates between two vectors.
func LerpVec(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// ClampLength scales v down so that its length does not exceed max. A
// non-positive max yields the zero vector.
func ClampLength(v mgl64.Vec3, max float64) mgl64.Vec3 {
	if max <= 0 {
		return mgl64.Vec3{}
	}
	l := v.Len()
	if l <= max || l < Epsilon {
		return v
	}
	return v.Mul(max / l)
}

// SafeNormalize returns a unit vector in the direction of v, or the zero
// vector when v is too short to have a meaningful direction.
func SafeNormalize(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l < Epsilon {
		return mgl64.Vec3{}
	}
	return v.Mul(1 / l)
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Sanitize returns v unchanged when it is finite and the zero vector otherwise.
func Sanitize(v mgl64.Vec3) mgl64.Vec3 {
	if !IsFinite(v) {
		return mgl64.Vec3{}
	}
	return v
}

// ProjectOnto returns the component of v along the unit vector axis.
func ProjectOnto(v, axis mgl64.Vec3) mgl64.Vec3 {
	return axis.Mul(v.Dot(axis))
}

// RejectFrom returns the component of v perpendicular to the unit vector axis.
func RejectFrom(v, axis mgl64.Vec3) mgl64.Vec3 {
	return v.Sub(ProjectOnto(v, axis))
}

// QuatError returns the normalized world-frame rotation that carries current
// onto target.
func QuatError(target, current mgl64.Quat) mgl64.Quat {
	return target.Mul(current.Inverse()).Normalize()
}

// RotationAngle returns the magnitude of the smallest rotation represented by
// the unit quaternion q, 2*acos(|w|), in [0, pi].
func RotationAngle(q mgl64.Quat) float64 {
	w := math.Abs(Clamp(q.W, -1, 1))
	return 2 * math.Acos(w)
}

// ShortestAxisAngle extracts the rotation axis and angle of q, always taking
// the short way around: an angle above pi is replaced by 2*pi-angle about the
// negated axis. A near-identity rotation yields a zero axis and zero angle.
func ShortestAxisAngle(q mgl64.Quat) (mgl64.Vec3, float64) {
	q = q.Normalize()
	w := Clamp(q.W, -1, 1)
	s := math.Sqrt(1 - w*w)
	if s < axisEpsilon {
		return mgl64.Vec3{}, 0
	}
	axis := q.V.Mul(1 / s)
	angle := 2 * math.Acos(w)
	if angle > math.Pi {
		angle = 2*math.Pi - angle
		axis = axis.Mul(-1)
	}
	return axis, angle
}

// BoxInertia returns the principal moments of inertia of a solid box with the
// given mass and half extents.
func BoxInertia(mass float64, halfExtents mgl64.Vec3) mgl64.Vec3 {
	x2 := halfExtents[0] * halfExtents[0]
	y2 := halfExtents[1] * halfExtents[1]
	z2 := halfExtents[2] * halfExtents[2]
	return mgl64.Vec3{
		mass / 3 * (y2 + z2),
		mass / 3 * (x2 + z2),
		mass / 3 * (x2 + y2),
	}
}

// ScalarInertia collapses the box inertia to its largest principal moment.
func ScalarInertia(mass float64, halfExtents mgl64.Vec3) float64 {
	i := BoxInertia(mass, halfExtents)
	return math.Max(i[0], math.Max(i[1], i[2]))
}

// LookRotation returns the orientation that maps local +Z onto forward and
// local +Y as close as possible onto up.
func LookRotation(forward, up mgl64.Vec3) mgl64.Quat {
	f := SafeNormalize(forward)
	if f == (mgl64.Vec3{}) {
		return mgl64.QuatIdent()
	}
	r := SafeNormalize(up.Cross(f))
	if r == (mgl64.Vec3{}) {
		// up is parallel to forward; pick any perpendicular
		alt := mgl64.Vec3{0, 1, 0}
		if math.Abs(f.Dot(alt)) > 0.9 {
			alt = mgl64.Vec3{1, 0, 0}
		}
		r = SafeNormalize(alt.Cross(f))
	}
	u := f.Cross(r)
	m := mgl64.Mat3FromCols(r, u, f)
	return mgl64.Mat4ToQuat(m.Mat4()).Normalize()
}

// FrameRotation returns the rotation that carries the local frame
// (localForward, localUp) onto the world frame (worldForward, worldUp).
func FrameRotation(localForward, localUp, worldForward, worldUp mgl64.Vec3) mgl64.Quat {
	world := LookRotation(worldForward, worldUp)
	local := LookRotation(localForward, localUp)
	return world.Mul(local.Inverse()).Normalize()
}

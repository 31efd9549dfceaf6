// pkg/physics/vector_test.go
package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func vecNear(a, b mgl64.Vec3, tol float64) bool {
	return a.Sub(b).Len() <= tol
}

func TestClampLength(t *testing.T) {
	tests := []struct {
		name     string
		v        mgl64.Vec3
		max      float64
		expected mgl64.Vec3
	}{
		{"under_limit", mgl64.Vec3{1, 2, 2}, 5, mgl64.Vec3{1, 2, 2}},
		{"over_limit", mgl64.Vec3{0, 3, 4}, 1, mgl64.Vec3{0, 0.6, 0.8}},
		{"zero_vector", mgl64.Vec3{}, 1, mgl64.Vec3{}},
		{"non_positive_max", mgl64.Vec3{1, 0, 0}, 0, mgl64.Vec3{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClampLength(tt.v, tt.max)
			if !vecNear(result, tt.expected, 1e-12) {
				t.Errorf("ClampLength() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestSafeNormalize(t *testing.T) {
	tests := []struct {
		name     string
		v        mgl64.Vec3
		expected mgl64.Vec3
	}{
		{"axis", mgl64.Vec3{0, 0, 7}, mgl64.Vec3{0, 0, 1}},
		{"pythagorean_triple", mgl64.Vec3{3, 4, 0}, mgl64.Vec3{0.6, 0.8, 0}},
		{"zero_vector", mgl64.Vec3{}, mgl64.Vec3{}},
		{"tiny_vector", mgl64.Vec3{1e-12, 0, 0}, mgl64.Vec3{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SafeNormalize(tt.v)
			if !vecNear(result, tt.expected, 1e-12) {
				t.Errorf("SafeNormalize() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize(mgl64.Vec3{math.NaN(), 1, 2}); got != (mgl64.Vec3{}) {
		t.Errorf("Sanitize(NaN) = %v, expected zero", got)
	}
	if got := Sanitize(mgl64.Vec3{math.Inf(1), 0, 0}); got != (mgl64.Vec3{}) {
		t.Errorf("Sanitize(Inf) = %v, expected zero", got)
	}
	if got := Sanitize(mgl64.Vec3{1, 2, 3}); got != (mgl64.Vec3{1, 2, 3}) {
		t.Errorf("Sanitize(finite) = %v, expected unchanged", got)
	}
}

func TestShortestAxisAngle(t *testing.T) {
	tests := []struct {
		name         string
		angle        float64
		axis         mgl64.Vec3
		expectAngle  float64
		expectedAxis mgl64.Vec3
	}{
		{"quarter_turn", math.Pi / 2, mgl64.Vec3{0, 1, 0}, math.Pi / 2, mgl64.Vec3{0, 1, 0}},
		{"just_under_half", math.Pi - 0.1, mgl64.Vec3{1, 0, 0}, math.Pi - 0.1, mgl64.Vec3{1, 0, 0}},
		{"three_quarter_turn", 3 * math.Pi / 2, mgl64.Vec3{0, 0, 1}, math.Pi / 2, mgl64.Vec3{0, 0, -1}},
		{"almost_full_turn", 2*math.Pi - 0.2, mgl64.Vec3{0, 1, 0}, 0.2, mgl64.Vec3{0, -1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mgl64.QuatRotate(tt.angle, tt.axis)
			axis, angle := ShortestAxisAngle(q)
			if math.Abs(angle-tt.expectAngle) > 1e-9 {
				t.Errorf("angle = %v, expected %v", angle, tt.expectAngle)
			}
			if !vecNear(axis, tt.expectedAxis, 1e-9) {
				t.Errorf("axis = %v, expected %v", axis, tt.expectedAxis)
			}
			if angle > math.Pi {
				t.Errorf("angle %v exceeds pi", angle)
			}
		})
	}
}

func TestShortestAxisAngle_Identity(t *testing.T) {
	axis, angle := ShortestAxisAngle(mgl64.QuatIdent())
	if axis != (mgl64.Vec3{}) || angle != 0 {
		t.Errorf("ShortestAxisAngle(identity) = %v, %v; expected zero axis and angle", axis, angle)
	}
}

func TestRotationAngle(t *testing.T) {
	for _, a := range []float64{0, 0.3, math.Pi / 2, math.Pi} {
		q := mgl64.QuatRotate(a, mgl64.Vec3{0, 0, 1})
		if got := RotationAngle(q); math.Abs(got-a) > 1e-7 {
			t.Errorf("RotationAngle(%v) = %v", a, got)
		}
	}
	// the long way round reports the short angle
	q := mgl64.QuatRotate(3*math.Pi/2, mgl64.Vec3{0, 0, 1})
	if got := RotationAngle(q); math.Abs(got-math.Pi/2) > 1e-9 {
		t.Errorf("RotationAngle(3pi/2) = %v, expected pi/2", got)
	}
}

func TestBoxInertia(t *testing.T) {
	i := BoxInertia(1000, mgl64.Vec3{1.5, 1.5, 2.5})
	expected := mgl64.Vec3{1000.0 / 3 * (2.25 + 6.25), 1000.0 / 3 * (2.25 + 6.25), 1000.0 / 3 * (2.25 + 2.25)}
	if !vecNear(i, expected, 1e-9) {
		t.Errorf("BoxInertia() = %v, expected %v", i, expected)
	}
	if s := ScalarInertia(1000, mgl64.Vec3{1.5, 1.5, 2.5}); math.Abs(s-expected[0]) > 1e-9 {
		t.Errorf("ScalarInertia() = %v, expected %v", s, expected[0])
	}
}

func TestLookRotation(t *testing.T) {
	tests := []struct {
		name    string
		forward mgl64.Vec3
		up      mgl64.Vec3
	}{
		{"identity", mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 1, 0}},
		{"face_x", mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}},
		{"face_back", mgl64.Vec3{0, 0, -1}, mgl64.Vec3{0, 1, 0}},
		{"up_parallel", mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, 1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := LookRotation(tt.forward, tt.up)
			got := q.Rotate(mgl64.Vec3{0, 0, 1})
			if !vecNear(got, SafeNormalize(tt.forward), 1e-9) {
				t.Errorf("forward = %v, expected %v", got, tt.forward)
			}
		})
	}
}

func TestFrameRotation_PortsFaceEachOther(t *testing.T) {
	// our front port (+Z) must end up facing opposite a target port normal of +X
	q := FrameRotation(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{0, 1, 0})
	if got := q.Rotate(mgl64.Vec3{0, 0, 1}); !vecNear(got, mgl64.Vec3{-1, 0, 0}, 1e-9) {
		t.Errorf("rotated normal = %v, expected -X", got)
	}
	if got := q.Rotate(mgl64.Vec3{0, 1, 0}); !vecNear(got, mgl64.Vec3{0, 1, 0}, 1e-9) {
		t.Errorf("rotated up = %v, expected +Y", got)
	}
}

func TestRejectFrom(t *testing.T) {
	v := mgl64.Vec3{1, 2, 3}
	axis := mgl64.Vec3{0, 0, 1}
	if got := RejectFrom(v, axis); !vecNear(got, mgl64.Vec3{1, 2, 0}, 1e-12) {
		t.Errorf("RejectFrom() = %v", got)
	}
	if got := ProjectOnto(v, axis); !vecNear(got, mgl64.Vec3{0, 0, 3}, 1e-12) {
		t.Errorf("ProjectOnto() = %v", got)
	}
}

func TestClampAndLerp(t *testing.T) {
	if Clamp(5.0, 0, 1) != 1 || Clamp(-1.0, 0, 1) != 0 || Clamp(0.5, 0, 1) != 0.5 {
		t.Error("Clamp() returned unexpected values")
	}
	if Lerp(0.0, 10, 0.1) != 1 {
		t.Errorf("Lerp() = %v, expected 1", Lerp(0.0, 10, 0.1))
	}
	if got := LerpVec(mgl64.Vec3{}, mgl64.Vec3{10, 0, 0}, 0.5); got != (mgl64.Vec3{5, 0, 0}) {
		t.Errorf("LerpVec() = %v", got)
	}
}

package autopilot

import "github.com/opd-ai/go-rendezvous/pkg/pid"

// Config holds the guidance gains and limits. Accelerations are per unit
// mass or inertia so the same values serve any hull.
type Config struct {
	// MaxSpeed caps the commanded approach speed in m/s.
	MaxSpeed float64 `json:"maxSpeed"`
	// BrakingAccel is the deceleration assumed by the stopping-distance
	// speed limit sqrt(2*a*d).
	BrakingAccel float64 `json:"brakingAccel"`
	// PositionGain converts distance to commanded speed near the target.
	PositionGain float64 `json:"positionGain"`
	// MaxLinearAccel bounds the commanded force as mass*MaxLinearAccel.
	MaxLinearAccel float64 `json:"maxLinearAccel"`
	// LateralDamping opposes velocity error across the line of approach.
	LateralDamping float64 `json:"lateralDamping"`
	// FeedForwardGain weights the target velocity in the velocity command.
	FeedForwardGain float64 `json:"feedForwardGain"`

	// OrientationGain converts angle error to commanded angular rate.
	OrientationGain float64 `json:"orientationGain"`
	// MaxAngularRate caps the commanded angular rate in rad/s.
	MaxAngularRate float64 `json:"maxAngularRate"`
	// MaxAngularAccel bounds the commanded torque as inertia*MaxAngularAccel.
	MaxAngularAccel float64 `json:"maxAngularAccel"`

	// Smoothing is the EMA weight of the newest wrench.
	Smoothing float64 `json:"smoothing"`
	// Epsilon is the threshold below which errors are treated as zero.
	Epsilon float64 `json:"epsilon"`

	Orientation pid.Config `json:"orientation"`
	Linear      pid.Config `json:"linear"`
	Momentum    pid.Config `json:"momentum"`
}

// DefaultConfig returns gains tuned for a 1000 kg hull with 200 N thrusters.
func DefaultConfig() Config {
	return Config{
		MaxSpeed:        5,
		BrakingAccel:    0.25,
		PositionGain:    0.5,
		MaxLinearAccel:  0.5,
		LateralDamping:  0.5,
		FeedForwardGain: 0.5,

		OrientationGain: 0.5,
		MaxAngularRate:  0.2,
		MaxAngularAccel: 0.2,

		Smoothing: 0.1,
		Epsilon:   1e-6,

		Orientation: pid.Config{Kp: 2, Ki: 0.02, MaxIntegral: 0.5, DerivativeAlpha: 0.9},
		Linear:      pid.Config{Kp: 2, MaxIntegral: 1, DerivativeAlpha: 0.9},
		Momentum:    pid.Config{Kp: 2, MaxIntegral: 0.5, DerivativeAlpha: 0.9},
	}
}

// Package pid implements a three-dimensional PID controller with integral
// anti-windup and a low-pass filtered derivative term.
package pid

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// Config holds the gains and limits of a Controller.
type Config struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	// MaxIntegral bounds the magnitude of the accumulated error sum.
	MaxIntegral float64 `json:"maxIntegral"`

	// DerivativeAlpha is the weight given to the previous filtered
	// derivative; 0 disables filtering.
	DerivativeAlpha float64 `json:"derivativeAlpha"`
}

// Controller is a stateful vector PID controller. It is not safe for
// concurrent use.
type Controller struct {
	cfg Config

	integral   mgl64.Vec3
	prevError  mgl64.Vec3
	derivative mgl64.Vec3
	primed     bool
}

// New creates a controller with the given configuration.
func New(cfg Config) *Controller {
	cfg.DerivativeAlpha = physics.Clamp(cfg.DerivativeAlpha, 0, 1)
	if cfg.MaxIntegral < 0 {
		cfg.MaxIntegral = 0
	}
	return &Controller{cfg: cfg}
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Update advances the controller by dt seconds with the given error and
// returns kp*e + ki*I + kd*D. A non-positive dt is replaced by
// physics.MinTimeStep.
func (c *Controller) Update(err mgl64.Vec3, dt float64) mgl64.Vec3 {
	if dt <= 0 {
		dt = physics.MinTimeStep
	}
	err = physics.Sanitize(err)

	c.integral = physics.ClampLength(c.integral.Add(err.Mul(dt)), c.cfg.MaxIntegral)

	// no derivative kick on the first sample after a reset
	if c.primed {
		raw := err.Sub(c.prevError).Mul(1 / dt)
		a := c.cfg.DerivativeAlpha
		c.derivative = c.derivative.Mul(a).Add(raw.Mul(1 - a))
	}
	c.prevError = err
	c.primed = true

	out := err.Mul(c.cfg.Kp).
		Add(c.integral.Mul(c.cfg.Ki)).
		Add(c.derivative.Mul(c.cfg.Kd))
	return physics.Sanitize(out)
}

// Integral returns the current clamped error sum.
func (c *Controller) Integral() mgl64.Vec3 {
	return c.integral
}

// Derivative returns the current filtered derivative estimate.
func (c *Controller) Derivative() mgl64.Vec3 {
	return c.derivative
}

// Reset clears all accumulated state.
func (c *Controller) Reset() {
	c.integral = mgl64.Vec3{}
	c.prevError = mgl64.Vec3{}
	c.derivative = mgl64.Vec3{}
	c.primed = false
}

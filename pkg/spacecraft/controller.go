package spacecraft

import (
	"context"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/logging"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// LatchConfig shapes the pulsed firing of each thruster.
type LatchConfig struct {
	// Threshold is the fraction of capacity above which a thruster fires.
	Threshold float64 `json:"threshold"`
	// MinOnTime and MinOffTime hold a thruster in its state after a
	// switch, in seconds.
	MinOnTime  float64 `json:"minOnTime"`
	MinOffTime float64 `json:"minOffTime"`
	// Smoothing is the weight kept from the previous applied force while
	// a thruster is on.
	Smoothing float64 `json:"smoothing"`
}

// DefaultLatchConfig returns the latch defaults.
func DefaultLatchConfig() LatchConfig {
	return LatchConfig{Threshold: 0.01, MinOnTime: 0.05, MinOffTime: 0.05, Smoothing: 0.8}
}

// ManualConfig sets the wrench requested by a held thrust key.
type ManualConfig struct {
	Force  float64 `json:"force"`
	Torque float64 `json:"torque"`
}

// DefaultManualConfig returns one full translation bin of force and a
// torque within reach of one rotation couple.
func DefaultManualConfig() ManualConfig {
	return ManualConfig{Force: 800, Torque: 1000}
}

// latchTolerance absorbs float drift when accumulated tick times are
// compared with the hold times.
const latchTolerance = 1e-9

type latch struct {
	on      bool
	elapsed float64
	applied float64
}

// update advances the latch by dt towards desired and returns the force to
// apply.
func (l *latch) update(cfg LatchConfig, desired, threshold, dt float64) float64 {
	l.elapsed += dt
	if want := desired > threshold; want != l.on {
		hold := cfg.MinOffTime
		if l.on {
			hold = cfg.MinOnTime
		}
		if l.elapsed+latchTolerance >= hold {
			l.on = want
			l.elapsed = 0
		}
	}
	if !l.on {
		l.applied = 0
		return 0
	}
	l.applied = cfg.Smoothing*l.applied + (1-cfg.Smoothing)*desired
	return l.applied
}

// asyncRebuilder is implemented by allocators that can re-derive their
// state off the simulation goroutine.
type asyncRebuilder interface {
	RebuildAsync(ctx context.Context, caps []float64) <-chan error
}

// Controller merges manual input and autopilot output into latched
// thruster forces and applies them to the body once per tick.
type Controller struct {
	craft  *Spacecraft
	latch  LatchConfig
	manual ManualConfig
	keys   KeyBindings
	async  bool
	logger *logging.Logger

	pressed map[string]bool

	latches    []latch
	strengths  []float64
	capacities []float64
	scale      float64
}

func newController(s *Spacecraft, cfg Config, logger *logging.Logger) *Controller {
	n := len(s.thrusters)
	c := &Controller{
		craft:     s,
		latch:     cfg.Latch,
		manual:    cfg.Manual,
		keys:      cfg.Keys,
		async:     cfg.AsyncRebuild,
		logger:    logger,
		pressed:   make(map[string]bool),
		latches:   make([]latch, n),
		strengths: make([]float64, n),
		scale:     1,
	}
	if c.keys == nil {
		c.keys = DefaultKeyBindings()
	}
	for i := range c.latches {
		c.latches[i].elapsed = math.Max(cfg.Latch.MinOnTime, cfg.Latch.MinOffTime)
		c.strengths[i] = 1
	}
	c.capacities = c.budget()
	return c
}

func (c *Controller) budget() []float64 {
	caps := make([]float64, len(c.craft.thrusters))
	for i, t := range c.craft.thrusters {
		caps[i] = t.MaxForce * c.strengths[i] * c.scale
	}
	return caps
}

// HandleKeyDown reacts to a key press and reports whether the key is
// bound. Toggle actions fire once per press; auto-repeat is ignored.
func (c *Controller) HandleKeyDown(ctx context.Context, code string) bool {
	action, ok := c.keys[code]
	if !ok {
		return false
	}
	if c.pressed[code] {
		return true
	}
	c.pressed[code] = true

	ap := c.craft.pilot
	if m, ok := modeActions[action]; ok {
		ap.ToggleMode(m)
		return true
	}
	switch action {
	case ToggleAutopilot:
		ap.SetEnabled(!ap.Enabled())
	case CancelDocking:
		c.craft.dock.Cancel(ctx)
	}
	return true
}

// HandleKeyUp releases a key and reports whether it is bound.
func (c *Controller) HandleKeyUp(code string) bool {
	if _, ok := c.keys[code]; !ok {
		return false
	}
	delete(c.pressed, code)
	return true
}

// SetThrusterStrengths sets per-thruster multipliers of the nominal
// capacity, 0 disabling a thruster. The allocator is re-derived before
// returning.
func (c *Controller) SetThrusterStrengths(strengths []float64) error {
	if len(strengths) != len(c.strengths) {
		return fmt.Errorf("thruster strengths: got %d, want %d", len(strengths), len(c.strengths))
	}
	for i, v := range strengths {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("thruster %d: invalid strength %v", i, v)
		}
	}
	copy(c.strengths, strengths)
	caps := c.budget()
	if err := c.craft.alloc.SetCapacities(caps); err != nil {
		return logging.WrapError(err, "craft %d thruster strengths", c.craft.ID())
	}
	c.capacities = caps
	return nil
}

// Strengths returns a copy of the per-thruster strength multipliers.
func (c *Controller) Strengths() []float64 {
	return append([]float64(nil), c.strengths...)
}

// SetThrustScale multiplies every thruster's budget, used when the craft
// carries a share of a docked cluster. The autopilot limits follow.
func (c *Controller) SetThrustScale(ctx context.Context, scale float64) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	if scale == c.scale {
		return
	}
	c.scale = scale
	c.craft.pilot.SetThrustScale(scale)

	caps := c.budget()
	c.capacities = caps
	if r, ok := c.craft.alloc.(asyncRebuilder); ok && c.async {
		// the published inverse keeps serving until the rebuild lands
		r.RebuildAsync(ctx, caps)
		return
	}
	if err := c.craft.alloc.SetCapacities(caps); err != nil {
		c.logger.Warn(ctx, "thrust budget rejected by allocator", "scale", scale, "error", err.Error())
	}
}

// ThrustScale returns the current budget multiplier.
func (c *Controller) ThrustScale() float64 {
	return c.scale
}

// Capacities returns the current per-thruster budget in Newtons.
func (c *Controller) Capacities() []float64 {
	return append([]float64(nil), c.capacities...)
}

// Forces returns the latched force of each thruster applied last tick.
func (c *Controller) Forces() []float64 {
	out := make([]float64, len(c.latches))
	for i, l := range c.latches {
		out[i] = l.applied
	}
	return out
}

// Duties returns the latched force of each thruster as a fraction of its
// budget, for display.
func (c *Controller) Duties() []float64 {
	out := make([]float64, len(c.latches))
	for i, l := range c.latches {
		if c.capacities[i] > 0 {
			out[i] = physics.Clamp(l.applied/c.capacities[i], 0, 1)
		}
	}
	return out
}

// ApplyForces runs one control tick: the autopilot and held keys are
// allocated, summed per thruster, clamped to the budget, latched and
// applied to the body. It returns which thrusters are firing.
func (c *Controller) ApplyForces(ctx context.Context, dt float64) []bool {
	if dt <= 0 {
		dt = physics.MinTimeStep
	}
	s := c.craft.State()
	auto := c.craft.pilot.CalculateAutopilotForces(ctx, s, dt)
	manual := c.manualForces(ctx)

	firing := make([]bool, len(c.latches))
	for i := range c.latches {
		capacity := c.capacities[i]
		desired := physics.Clamp(at(auto, i)+at(manual, i), 0, math.Max(capacity, 0))
		f := c.latches[i].update(c.latch, desired, c.latch.Threshold*capacity, dt)
		firing[i] = c.latches[i].on

		if f <= 0 {
			continue
		}
		t := c.craft.thrusters[i]
		c.craft.body.ApplyForceAt(s.Orientation.Rotate(t.Force()).Mul(f), s.ToWorld(t.Position))
	}
	return firing
}

func (c *Controller) manualForces(ctx context.Context) []float64 {
	var force, torque mgl64.Vec3
	for code := range c.pressed {
		axis, ok := manualAxes[c.keys[code]]
		if !ok {
			continue
		}
		force = force.Add(axis.force)
		torque = torque.Add(axis.torque)
	}
	if force == (mgl64.Vec3{}) && torque == (mgl64.Vec3{}) {
		return nil
	}

	duties, err := c.craft.alloc.Allocate(
		physics.ClampLength(force, 1).Mul(c.manual.Force*c.scale),
		physics.ClampLength(torque, 1).Mul(c.manual.Torque*c.scale),
	)
	if err != nil {
		c.logger.Debug(ctx, "manual thrust allocation failed", "error", err.Error())
		return nil
	}
	return duties
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

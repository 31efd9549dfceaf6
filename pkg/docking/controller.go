package docking

import (
	"context"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/logging"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// Phase is the state of a docking sequence.
type Phase int

const (
	Idle Phase = iota
	Approaching
	Aligning
	FinalApproach
	Docked
)

var phaseNames = [...]string{"idle", "approaching", "aligning", "final_approach", "docked"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Reasons reported with transitions back to Idle.
const (
	ReasonCancelled      = "cancelled"
	ReasonTargetVanished = "target vanished"
	ReasonPortOccupied   = "port occupied"
	ReasonDockFailed     = "dock failed"
	ReasonUndocked       = "undocked"
	ReasonReleased       = "released"
)

// Config holds the distances, speeds and gates of the docking sequence.
type Config struct {
	// StandoffDistance is how far out along the target port normal the
	// approach waypoint sits, in metres.
	StandoffDistance float64 `json:"standoffDistance"`
	// ApproachTolerance ends the approach phase.
	ApproachTolerance float64 `json:"approachTolerance"`
	// AlignPositionTolerance and AlignAngleTolerance end the alignment phase.
	AlignPositionTolerance float64 `json:"alignPositionTolerance"`
	AlignAngleTolerance    float64 `json:"alignAngleTolerance"`
	// FinalApproachSpeed sets the duration of the closing trajectory.
	FinalApproachSpeed float64 `json:"finalApproachSpeed"`
	// LateralTolerance and FinalAngleTolerance gate progress along the
	// closing trajectory.
	LateralTolerance    float64 `json:"lateralTolerance"`
	FinalAngleTolerance float64 `json:"finalAngleTolerance"`
	// DockDistance, DockSpeed and DockAngle must all hold at contact.
	DockDistance float64 `json:"dockDistance"`
	DockSpeed    float64 `json:"dockSpeed"`
	DockAngle    float64 `json:"dockAngle"`
}

// DefaultConfig returns the docking defaults.
func DefaultConfig() Config {
	return Config{
		StandoffDistance:       10,
		ApproachTolerance:      1.0,
		AlignPositionTolerance: 0.5,
		AlignAngleTolerance:    0.02,
		FinalApproachSpeed:     0.4,
		LateralTolerance:       0.3,
		FinalAngleTolerance:    0.05,
		DockDistance:           0.1,
		DockSpeed:              0.05,
		DockAngle:              0.05,
	}
}

// PhaseObserver is called after every phase transition.
type PhaseObserver func(from, to Phase, target uint64, reason string)

// Controller drives one craft through a docking sequence by feeding
// waypoints to its autopilot. Targets are looked up every tick, so a moving
// or rotating target is tracked.
type Controller struct {
	self     Vehicle
	registry Registry
	joints   physics.Joints
	cfg      Config
	logger   *logging.Logger

	phase      Phase
	targetID   uint64
	ourPort    PortID
	theirPort  PortID
	trajectory *Trajectory
	elapsed    float64

	observers []PhaseObserver
}

// NewController creates an idle controller for self.
func NewController(self Vehicle, reg Registry, joints physics.Joints, cfg Config) *Controller {
	return &Controller{self: self, registry: reg, joints: joints, cfg: cfg}
}

// SetLogger installs the logger used for transitions.
func (c *Controller) SetLogger(l *logging.Logger) {
	c.logger = l
}

// AddObserver registers fn to be told about every transition.
func (c *Controller) AddObserver(fn PhaseObserver) {
	c.observers = append(c.observers, fn)
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// Target returns the target craft and port pair of the current or last
// sequence.
func (c *Controller) Target() (id uint64, ours, theirs PortID) {
	return c.targetID, c.ourPort, c.theirPort
}

// Trajectory returns the closing trajectory during final approach.
func (c *Controller) Trajectory() *Trajectory {
	return c.trajectory
}

// StartDocking begins a sequence joining our port to the target's port. It
// reports false, changing nothing, when the target or a port is missing or
// either port is occupied.
func (c *Controller) StartDocking(ctx context.Context, target uint64, ours, theirs PortID) bool {
	return c.TryStartDocking(ctx, target, ours, theirs) == nil
}

// TryStartDocking is StartDocking with the failure reason.
func (c *Controller) TryStartDocking(ctx context.Context, target uint64, ours, theirs PortID) error {
	if target == c.self.ID() {
		return ErrSameVehicle
	}
	v, ok := c.registry.Vehicle(target)
	if !ok {
		return fmt.Errorf("craft %d: %w", target, ErrNoVehicle)
	}
	ourPort, theirPort := c.self.Port(ours), v.Port(theirs)
	if ourPort == nil || theirPort == nil {
		return ErrNoPort
	}
	if ourPort.Occupied() || theirPort.Occupied() {
		return ErrPortOccupied
	}

	c.targetID, c.ourPort, c.theirPort = target, ours, theirs
	c.trajectory, c.elapsed = nil, 0

	ap := c.self.Autopilot()
	ap.Reset()
	ap.EnableMode(autopilot.CancelRotation)
	ap.EnableMode(autopilot.GoToPosition)

	c.transition(ctx, Approaching, "")
	return nil
}

// Cancel stops an active sequence; the autopilot is returned to idle and no
// port is touched. It has no effect when idle or docked.
func (c *Controller) Cancel(ctx context.Context) {
	c.abort(ctx, ReasonCancelled)
}

// Undock releases the port joined by the last sequence.
func (c *Controller) Undock(ctx context.Context) bool {
	if c.phase != Docked {
		return false
	}
	if err := TryUndock(c.joints, c.registry, c.self, c.ourPort); err != nil {
		c.logger.Warn(ctx, "undock failed", "craft", c.self.ID(), "error", err.Error())
		return false
	}
	c.transition(ctx, Idle, ReasonUndocked)
	return true
}

func (c *Controller) abort(ctx context.Context, reason string) {
	if c.phase == Idle || c.phase == Docked {
		return
	}
	c.trajectory, c.elapsed = nil, 0
	if ap := c.self.Autopilot(); ap != nil {
		ap.Reset()
	}
	if reason != ReasonCancelled {
		c.logger.Warn(ctx, "docking aborted", "craft", c.self.ID(), "target", c.targetID,
			"phase", c.phase.String(), "reason", reason)
	}
	c.transition(ctx, Idle, reason)
}

func (c *Controller) transition(ctx context.Context, to Phase, reason string) {
	from := c.phase
	c.phase = to
	c.logger.Info(ctx, "docking phase changed", "craft", c.self.ID(), "target", c.targetID,
		"from", from.String(), "to", to.String(), "reason", reason)
	for _, fn := range c.observers {
		fn(from, to, c.targetID, reason)
	}
}

// geometry is the per-tick view of the port pair.
type geometry struct {
	self, target physics.State
	ourPort      *Port

	theirPosition mgl64.Vec3
	theirNormal   mgl64.Vec3
	theirUp       mgl64.Vec3

	desired mgl64.Quat
	angle   float64
}

// centerFor returns where our center must be for our port to sit at point
// once we hold the desired orientation.
func (g geometry) centerFor(point mgl64.Vec3) mgl64.Vec3 {
	return point.Sub(g.desired.Rotate(g.ourPort.Position))
}

// Update advances the sequence by one tick. A docked controller whose port
// was released from elsewhere returns to idle.
func (c *Controller) Update(ctx context.Context, dt float64) {
	if c.phase == Docked {
		if p := c.self.Port(c.ourPort); p == nil || !p.Occupied() {
			c.transition(ctx, Idle, ReasonReleased)
		}
		return
	}
	if c.phase == Idle {
		return
	}
	if dt <= 0 {
		dt = physics.MinTimeStep
	}

	target, ok := c.registry.Vehicle(c.targetID)
	if !ok {
		c.abort(ctx, ReasonTargetVanished)
		return
	}
	ourPort, theirPort := c.self.Port(c.ourPort), target.Port(c.theirPort)
	if ourPort == nil || theirPort == nil {
		c.abort(ctx, ReasonTargetVanished)
		return
	}
	if ourPort.Occupied() || theirPort.Occupied() {
		c.abort(ctx, ReasonPortOccupied)
		return
	}

	g := geometry{self: c.self.State(), target: target.State(), ourPort: ourPort}
	g.theirPosition, g.theirNormal, g.theirUp = theirPort.World(g.target)
	// docked ports face each other with matching up vectors
	g.desired = physics.FrameRotation(ourPort.Normal, ourPort.Up, g.theirNormal.Mul(-1), g.theirUp)
	g.angle = physics.RotationAngle(physics.QuatError(g.desired, g.self.Orientation))

	switch c.phase {
	case Approaching:
		c.approach(ctx, g)
	case Aligning:
		c.align(ctx, g)
	case FinalApproach:
		c.close(ctx, g, target, dt)
	}
}

func (c *Controller) standoff(g geometry) mgl64.Vec3 {
	return g.centerFor(g.theirPosition.Add(g.theirNormal.Mul(c.cfg.StandoffDistance)))
}

func (c *Controller) approach(ctx context.Context, g geometry) {
	ap := c.self.Autopilot()
	waypoint := c.standoff(g)
	ap.SetTargetPosition(waypoint)
	ap.SetTargetVelocity(g.target.LinearVelocity)

	if g.self.Position.Sub(waypoint).Len() < c.cfg.ApproachTolerance {
		ap.SetTargetOrientation(g.desired)
		ap.EnableMode(autopilot.OrientationMatch)
		c.transition(ctx, Aligning, "")
	}
}

func (c *Controller) align(ctx context.Context, g geometry) {
	ap := c.self.Autopilot()
	waypoint := c.standoff(g)
	ap.SetTargetPosition(waypoint)
	ap.SetTargetVelocity(g.target.LinearVelocity)
	ap.SetTargetOrientation(g.desired)

	if g.self.Position.Sub(waypoint).Len() < c.cfg.AlignPositionTolerance && g.angle < c.cfg.AlignAngleTolerance {
		// the closing path is expressed along the target port normal
		c.trajectory = NewTrajectory(
			[]mgl64.Vec3{{0, 0, c.cfg.StandoffDistance}, {0, 0, 0}},
			c.cfg.StandoffDistance/c.cfg.FinalApproachSpeed,
		)
		c.elapsed = 0
		c.transition(ctx, FinalApproach, "")
	}
}

func (c *Controller) close(ctx context.Context, g geometry, target Vehicle, dt float64) {
	ap := c.self.Autopilot()
	ap.SetTargetOrientation(g.desired)

	ourPosition := g.self.ToWorld(g.ourPort.Position)
	rel := ourPosition.Sub(g.theirPosition)
	lateral := physics.RejectFrom(rel, g.theirNormal).Len()

	// hold the reference still until the craft is back on the axis
	if lateral < c.cfg.LateralTolerance && g.angle < c.cfg.FinalAngleTolerance {
		c.elapsed = min(c.elapsed+dt, c.trajectory.Duration())
	}

	frame := physics.LookRotation(g.theirNormal, g.theirUp)
	local, localVel := c.trajectory.Update(c.elapsed)
	point := g.theirPosition.Add(frame.Rotate(local))
	ap.SetTargetPosition(g.centerFor(point))
	ap.SetTargetVelocity(frame.Rotate(localVel).Add(g.target.PointVelocity(point)))

	separation := rel.Len()
	closing := g.self.PointVelocity(ourPosition).Sub(g.target.PointVelocity(g.theirPosition)).Len()
	if c.elapsed < c.trajectory.Duration() ||
		separation >= c.cfg.DockDistance ||
		closing >= c.cfg.DockSpeed ||
		g.angle >= c.cfg.DockAngle {
		return
	}

	if _, err := TryDock(c.joints, c.self, c.ourPort, target, c.theirPort); err != nil {
		c.logger.Warn(ctx, "dock failed at contact", "craft", c.self.ID(), "target", c.targetID, "error", err.Error())
		c.abort(ctx, ReasonDockFailed)
		return
	}
	c.trajectory = nil
	c.logger.Info(ctx, "docked", "craft", c.self.ID(), "target", c.targetID,
		"separation", separation, "closing_speed", closing)
	c.transition(ctx, Docked, "")
}

// Package engine runs the fixed-step simulation: it owns the physics world,
// the crafts and the event bus, and drives the per-tick systems in order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/EngoEngine/ecs"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/docking"
	"github.com/opd-ai/go-rendezvous/pkg/event"
	"github.com/opd-ai/go-rendezvous/pkg/health"
	"github.com/opd-ai/go-rendezvous/pkg/logging"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
	"github.com/opd-ai/go-rendezvous/pkg/spacecraft"
	"github.com/opd-ai/go-rendezvous/pkg/telemetry"
	"github.com/opd-ai/go-rendezvous/pkg/thruster"
	"github.com/opd-ai/go-rendezvous/pkg/validation"
)

// ErrUnknownCraft is returned for ids that do not name a live craft.
var ErrUnknownCraft = errors.New("unknown craft")

// Config contains the simulation settings
type Config struct {
	// TimeStep is the fixed tick length in seconds.
	TimeStep float64 `json:"timeStep"`
	// Craft is the configuration used by AddDefaultSpacecraft.
	Craft spacecraft.Config `json:"craft"`
}

// DefaultConfig returns a 60 Hz simulation of default crafts.
func DefaultConfig() Config {
	return Config{
		TimeStep: 1.0 / 60.0,
		Craft:    spacecraft.DefaultConfig(),
	}
}

// Placement is the initial pose and motion of a new craft.
type Placement struct {
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// Simulation represents the simulation state and its tick loop. It is
// driven from one goroutine; only event handlers for allocation rebuilds
// may run on others.
type Simulation struct {
	Config   Config
	EventBus *event.Bus

	logger  *logging.Logger
	metrics *telemetry.Metrics

	world   *physics.World
	systems *ecs.World
	docking *dockingSystem
	cluster *clusterSystem
	control *controlSystem

	crafts  map[uint64]*spacecraft.Spacecraft
	leaders map[uint64]uint64 // smallest member id -> leader id

	ctx         context.Context
	dt          float64
	currentTick uint64
	elapsed     float64
}

// NewSimulation creates an empty simulation with the given configuration
func NewSimulation(cfg Config) *Simulation {
	dt := cfg.TimeStep
	if dt <= 0 {
		dt = physics.MinTimeStep
	}
	s := &Simulation{
		Config:   cfg,
		EventBus: event.NewEventBus(),
		world:    physics.NewWorld(),
		systems:  &ecs.World{},
		crafts:   make(map[uint64]*spacecraft.Spacecraft),
		leaders:  make(map[uint64]uint64),
		ctx:      context.Background(),
		dt:       dt,
	}
	s.initSystems()
	return s
}

// initSystems registers the per-tick systems. Priorities fix the order:
// docking, cluster sync, control, physics.
func (s *Simulation) initSystems() {
	s.docking = &dockingSystem{sim: s}
	s.cluster = &clusterSystem{sim: s}
	s.control = &controlSystem{sim: s, firing: make(map[uint64][]bool)}
	s.systems.AddSystem(s.docking)
	s.systems.AddSystem(s.cluster)
	s.systems.AddSystem(s.control)
	s.systems.AddSystem(&physicsSystem{sim: s})
}

// SetLogger installs the logger handed to every craft added afterwards.
func (s *Simulation) SetLogger(l *logging.Logger) {
	s.logger = l
}

// SetMetrics installs the metric instruments.
func (s *Simulation) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// World returns the physics world.
func (s *Simulation) World() *physics.World {
	return s.world
}

// TimeStep returns the tick length in seconds.
func (s *Simulation) TimeStep() float64 {
	return s.dt
}

// CurrentTick returns the number of completed ticks.
func (s *Simulation) CurrentTick() uint64 {
	return s.currentTick
}

// ElapsedTime returns the simulated time in seconds.
func (s *Simulation) ElapsedTime() float64 {
	return s.elapsed
}

// Spacecraft looks up a live craft.
func (s *Simulation) Spacecraft(id uint64) (*spacecraft.Spacecraft, bool) {
	c, ok := s.crafts[id]
	return c, ok
}

// Vehicle implements docking.Registry.
func (s *Simulation) Vehicle(id uint64) (docking.Vehicle, bool) {
	c, ok := s.crafts[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// ResolveTarget implements autopilot.Resolver.
func (s *Simulation) ResolveTarget(id uint64) (autopilot.Target, bool) {
	c, ok := s.crafts[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// Crafts returns the live crafts ordered by id.
func (s *Simulation) Crafts() []*spacecraft.Spacecraft {
	out := make([]*spacecraft.Spacecraft, 0, len(s.crafts))
	for _, c := range s.crafts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Firing returns the thrusters of a craft that fired on the last tick.
func (s *Simulation) Firing(id uint64) []bool {
	return append([]bool(nil), s.control.firing[id]...)
}

// AddDefaultSpacecraft adds a craft built from Config.Craft.
func (s *Simulation) AddDefaultSpacecraft(name string, p Placement) (*spacecraft.Spacecraft, error) {
	return s.AddSpacecraft(name, s.Config.Craft, p)
}

// AddSpacecraft creates a body for a new craft and registers it with every
// system.
func (s *Simulation) AddSpacecraft(name string, cfg spacecraft.Config, p Placement) (*spacecraft.Spacecraft, error) {
	name, err := validation.ValidateCraftName(name)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("hull mass", cfg.Hull.Mass); err != nil {
		return nil, fmt.Errorf("craft %q: %w", name, err)
	}
	if err := validation.ValidatePositiveVector("hull half extents", cfg.Hull.HalfExtents); err != nil {
		return nil, fmt.Errorf("craft %q: %w", name, err)
	}

	body := s.world.AddBody(physics.BodySpec{
		Mass:            cfg.Hull.Mass,
		HalfExtents:     cfg.Hull.HalfExtents,
		Position:        p.Position,
		Orientation:     p.Orientation,
		LinearVelocity:  p.LinearVelocity,
		AngularVelocity: p.AngularVelocity,
	})
	craft, err := spacecraft.New(name, body, cfg, spacecraft.Env{
		Registry: s,
		Joints:   s.world,
		Resolver: s,
		Logger:   s.logger,
	})
	if err != nil {
		_ = s.world.RemoveBody(body.ID())
		return nil, err
	}

	s.crafts[craft.ID()] = craft
	s.wire(craft)
	s.docking.Add(craft)
	s.cluster.Add(craft)
	s.control.Add(craft)

	s.logger.Info(s.ctx, "craft added", "craft", craft.ID(), "name", name, "position", p.Position)
	s.EventBus.Publish(event.NewCraftEvent(event.CraftAdded, s, craft.ID(), name))
	return craft, nil
}

// wire forwards a craft's observer callbacks to the event bus and metrics.
func (s *Simulation) wire(craft *spacecraft.Spacecraft) {
	id := craft.ID()

	craft.Autopilot().AddObserver(func(m autopilot.Mode, active bool) {
		s.EventBus.Publish(event.NewModeEvent(s, id, m.String(), active))
	})

	ctrl := craft.Docking()
	ctrl.AddObserver(func(from, to docking.Phase, target uint64, reason string) {
		s.metrics.PhaseTransition(s.ctx, from.String(), to.String(), reason)
		s.EventBus.Publish(event.NewPhaseEvent(s, id, target, from.String(), to.String(), reason))

		_, ours, theirs := ctrl.Target()
		switch {
		case to == docking.Docked:
			s.metrics.Join(s.ctx, true)
			s.EventBus.Publish(event.NewDockEvent(event.Docked, s, id, ours.String(), target, theirs.String()))
		case from == docking.Docked && reason == docking.ReasonUndocked:
			s.metrics.Join(s.ctx, false)
			s.EventBus.Publish(event.NewDockEvent(event.Undocked, s, id, ours.String(), target, theirs.String()))
		}
	})

	if pi, ok := craft.Allocator().(*thruster.PseudoInverse); ok {
		// runs on the rebuild goroutine for background rebuilds
		pi.OnRebuild(func(r thruster.Rebuild) {
			ctx := context.Background()
			s.metrics.Rebuild(ctx, r.Duration, r.Cached, r.Err)
			typ := event.AllocationRebuilt
			if r.Err != nil {
				typ = event.AllocationFailed
				s.logger.Warn(ctx, "thruster allocation rebuild failed", "craft", id, "rank", r.Rank, "error", r.Err.Error())
			}
			s.EventBus.Publish(event.NewAllocationEvent(typ, s, id, r.Rank, r.Cached, r.Err))
		})
	}
}

// RemoveSpacecraft releases a craft's ports, removes its body and drops it
// from every system. Crafts targeting it fall back to its last known
// position on their next tick.
func (s *Simulation) RemoveSpacecraft(ctx context.Context, id uint64) error {
	craft, ok := s.crafts[id]
	if !ok {
		return fmt.Errorf("remove craft %d: %w", id, ErrUnknownCraft)
	}

	craft.Docking().Cancel(ctx)
	for _, p := range craft.Ports() {
		link, docked := p.Link()
		if !docked {
			continue
		}
		if err := docking.TryUndock(s.world, s, craft, p.ID); err != nil {
			s.logger.Warn(ctx, "releasing port of removed craft failed", "craft", id, "port", p.ID.String(), "error", err.Error())
			docking.Release(craft, p.ID)
			continue
		}
		s.EventBus.Publish(event.NewDockEvent(event.Undocked, s, id, p.ID.String(), link.Partner, link.PartnerPort.String()))
	}

	delete(s.crafts, id)
	s.systems.RemoveEntity(craft.BasicEntity)
	if err := s.world.RemoveBody(craft.BodyID()); err != nil {
		return logging.WrapError(err, "remove craft %d", id)
	}

	s.logger.Info(ctx, "craft removed", "craft", id, "name", craft.Name)
	s.EventBus.Publish(event.NewCraftEvent(event.CraftRemoved, s, id, craft.Name))
	return nil
}

// StartDocking begins a docking sequence of craft id towards target. It
// reports false, changing nothing, when a precondition fails.
func (s *Simulation) StartDocking(ctx context.Context, id, target uint64, ours, theirs docking.PortID) bool {
	craft, ok := s.crafts[id]
	if !ok {
		return false
	}
	if err := craft.Docking().TryStartDocking(ctx, target, ours, theirs); err != nil {
		s.logger.Info(ctx, "docking not started", "craft", id, "target", target, "reason", err.Error())
		return false
	}
	return true
}

// CancelDocking stops the docking sequence of craft id.
func (s *Simulation) CancelDocking(ctx context.Context, id uint64) {
	if craft, ok := s.crafts[id]; ok {
		craft.Docking().Cancel(ctx)
	}
}

// Dock joins two crafts at once, bypassing the approach.
func (s *Simulation) Dock(ctx context.Context, a uint64, pa docking.PortID, b uint64, pb docking.PortID) bool {
	ca, okA := s.crafts[a]
	cb, okB := s.crafts[b]
	if !okA || !okB {
		return false
	}
	if _, err := docking.TryDock(s.world, ca, pa, cb, pb); err != nil {
		s.logger.Info(ctx, "dock refused", "craft", a, "target", b, "reason", err.Error())
		return false
	}
	s.metrics.Join(ctx, true)
	s.EventBus.Publish(event.NewDockEvent(event.Docked, s, a, pa.String(), b, pb.String()))
	return true
}

// Undock releases port p of craft id and its partner.
func (s *Simulation) Undock(ctx context.Context, id uint64, p docking.PortID) bool {
	craft, ok := s.crafts[id]
	if !ok {
		return false
	}
	ctrl := craft.Docking()
	if _, ours, _ := ctrl.Target(); ctrl.Phase() == docking.Docked && ours == p {
		return ctrl.Undock(ctx)
	}

	port := craft.Port(p)
	if port == nil {
		return false
	}
	link, docked := port.Link()
	if !docked || !docking.Undock(s.world, s, craft, p) {
		return false
	}
	s.metrics.Join(ctx, false)
	s.EventBus.Publish(event.NewDockEvent(event.Undocked, s, id, p.String(), link.Partner, link.PartnerPort.String()))
	return true
}

// Step advances the simulation by one fixed tick.
func (s *Simulation) Step(ctx context.Context) {
	s.ctx = ctx
	s.systems.Update(float32(s.dt))
	s.currentTick++
	s.elapsed += s.dt
	s.metrics.Tick(ctx)
}

// Run steps until done reports true, maxTicks ticks have run or ctx ends.
// It returns the number of ticks run.
func (s *Simulation) Run(ctx context.Context, maxTicks int, done func(*Simulation) bool) (int, error) {
	for i := 0; i < maxTicks; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if done != nil && done(s) {
			return i, nil
		}
		s.Step(ctx)
	}
	return maxTicks, nil
}

// noteLeader publishes a cluster event when a cluster's leader changes.
func (s *Simulation) noteLeader(members []*spacecraft.Spacecraft, leader *spacecraft.Spacecraft) {
	key := members[0].ID()
	if prev, ok := s.leaders[key]; ok && prev == leader.ID() {
		return
	}
	s.leaders[key] = leader.ID()

	ids := make([]uint64, len(members))
	for i, m := range members {
		ids[i] = m.ID()
	}
	total := spacecraft.TotalMass(members)
	s.logger.Info(s.ctx, "cluster leader chosen", "leader", leader.ID(), "members", ids, "total_mass", total)
	s.EventBus.Publish(event.NewClusterEvent(s, leader.ID(), ids, total))
}

// Sample captures the state of every craft for the flight recorder.
func (s *Simulation) Sample() telemetry.Sample {
	out := telemetry.Sample{Tick: s.currentTick, Time: s.elapsed}
	for _, c := range s.Crafts() {
		st := c.State()
		var modes []string
		for _, m := range c.Autopilot().ActiveModes() {
			modes = append(modes, m.String())
		}
		out.Crafts = append(out.Crafts, telemetry.CraftSample{
			ID:              c.ID(),
			Name:            c.Name,
			Position:        st.Position,
			Orientation:     [4]float64{st.Orientation.W, st.Orientation.V[0], st.Orientation.V[1], st.Orientation.V[2]},
			LinearVelocity:  st.LinearVelocity,
			AngularVelocity: st.AngularVelocity,
			Phase:           c.Docking().Phase().String(),
			Modes:           modes,
			Duties:          c.Controller().Duties(),
		})
	}
	return out
}

// States returns a snapshot of every craft keyed by id.
func (s *Simulation) States() map[uint64]physics.State {
	out := make(map[uint64]physics.State, len(s.crafts))
	for id, c := range s.crafts {
		out[id] = c.State()
	}
	return out
}

// Vehicles returns the live crafts as docking vehicles, ordered by id.
func (s *Simulation) Vehicles() []docking.Vehicle {
	crafts := s.Crafts()
	out := make([]docking.Vehicle, len(crafts))
	for i, c := range crafts {
		out[i] = c
	}
	return out
}

// HealthChecker returns a checker preloaded with the numerical and docking
// link checks of this simulation.
func (s *Simulation) HealthChecker() *health.HealthChecker {
	hc := health.NewHealthChecker()
	hc.AddCheck(health.NewStateHealthCheck(s.States))
	hc.AddCheck(health.NewLinkHealthCheck(s.Vehicles, s))
	return hc
}

// Package spacecraft assembles a flyable craft from a rigid body, a
// thruster layout, docking ports and the guidance stack, and runs its
// per-tick orchestration: manual input, autopilot, pulse latching and
// docked-cluster coordination.
package spacecraft

import (
	"fmt"

	"github.com/EngoEngine/ecs"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/docking"
	"github.com/opd-ai/go-rendezvous/pkg/logging"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
	"github.com/opd-ai/go-rendezvous/pkg/thruster"
)

// HullConfig describes the rigid body of a craft.
type HullConfig struct {
	Mass        float64    `json:"mass"`
	HalfExtents mgl64.Vec3 `json:"halfExtents"`
}

// Config gathers everything needed to build a craft.
type Config struct {
	Hull      HullConfig       `json:"hull"`
	Thrusters thruster.Config  `json:"thrusters"`
	Autopilot autopilot.Config `json:"autopilot"`
	Docking   docking.Config   `json:"docking"`
	Latch     LatchConfig      `json:"latch"`
	Manual    ManualConfig     `json:"manual"`
	Keys      KeyBindings      `json:"keys"`
	// AsyncRebuild moves allocator rebuilds caused by cluster scaling onto
	// a background goroutine when the allocator supports it.
	AsyncRebuild bool `json:"asyncRebuild"`
}

// DefaultConfig returns a 1000 kg, 3x3x5 m craft with 200 N thrusters.
func DefaultConfig() Config {
	return Config{
		Hull:      HullConfig{Mass: 1000, HalfExtents: mgl64.Vec3{1.5, 1.5, 2.5}},
		Thrusters: thruster.DefaultConfig(),
		Autopilot: autopilot.DefaultConfig(),
		Docking:   docking.DefaultConfig(),
		Latch:     DefaultLatchConfig(),
		Manual:    DefaultManualConfig(),
		Keys:      DefaultKeyBindings(),
	}
}

// Env is the simulation a craft lives in.
type Env struct {
	Registry docking.Registry
	Joints   physics.Joints
	Resolver autopilot.Resolver
	Logger   *logging.Logger
}

// Spacecraft is one simulated vehicle. Its ecs identity doubles as the
// stable id used for targeting, docking links and cluster leadership.
type Spacecraft struct {
	ecs.BasicEntity
	Name string

	cfg       Config
	body      physics.Body
	thrusters []thruster.Thruster
	ports     [2]*docking.Port
	alloc     thruster.Allocator
	pilot     *autopilot.Autopilot
	dock      *docking.Controller
	controls  *Controller
}

// New builds a craft around body, which must already exist in the physics
// engine behind env.Joints.
func New(name string, body physics.Body, cfg Config, env Env) (*Spacecraft, error) {
	if body == nil {
		return nil, fmt.Errorf("spacecraft %q: no body", name)
	}
	layout := thruster.StandardLayout(cfg.Hull.HalfExtents, cfg.Thrusters.MaxForce)
	alloc, err := thruster.New(cfg.Thrusters, layout)
	if err != nil {
		return nil, fmt.Errorf("spacecraft %q: %w", name, err)
	}

	s := &Spacecraft{
		BasicEntity: ecs.NewBasic(),
		Name:        name,
		cfg:         cfg,
		body:        body,
		thrusters:   layout,
		ports:       docking.StandardPorts(cfg.Hull.HalfExtents),
		alloc:       alloc,
	}
	logger := env.Logger.With("craft", s.ID(), "name", name)

	s.pilot = autopilot.New(s.ID(), cfg.Autopilot, cfg.Hull.HalfExtents, alloc)
	s.pilot.SetResolver(env.Resolver)
	s.pilot.SetLogger(logger)

	s.dock = docking.NewController(s, env.Registry, env.Joints, cfg.Docking)
	s.dock.SetLogger(logger)

	s.controls = newController(s, cfg, logger)
	return s, nil
}

// State returns the current rigid-body snapshot.
func (s *Spacecraft) State() physics.State {
	return s.body.State()
}

// Body returns the physics body.
func (s *Spacecraft) Body() physics.Body {
	return s.body
}

// BodyID returns the handle of the physics body.
func (s *Spacecraft) BodyID() physics.BodyID {
	return s.body.ID()
}

// Mass returns the craft's own mass.
func (s *Spacecraft) Mass() float64 {
	return s.body.State().Mass
}

// Config returns the configuration the craft was built with.
func (s *Spacecraft) Config() Config {
	return s.cfg
}

// Thrusters returns the thruster layout.
func (s *Spacecraft) Thrusters() []thruster.Thruster {
	return s.thrusters
}

// Allocator returns the allocator shared by manual and autopilot control.
func (s *Spacecraft) Allocator() thruster.Allocator {
	return s.alloc
}

// Port returns the port with the given id, or nil.
func (s *Spacecraft) Port(id docking.PortID) *docking.Port {
	if id < 0 || int(id) >= len(s.ports) {
		return nil
	}
	return s.ports[id]
}

// Ports returns both ports.
func (s *Spacecraft) Ports() [2]*docking.Port {
	return s.ports
}

// Autopilot returns the craft's autopilot.
func (s *Spacecraft) Autopilot() *autopilot.Autopilot {
	return s.pilot
}

// Docking returns the craft's docking controller.
func (s *Spacecraft) Docking() *docking.Controller {
	return s.dock
}

// Controller returns the per-tick controller.
func (s *Spacecraft) Controller() *Controller {
	return s.controls
}

// TargetPoint returns the world position of the center or of a port, for
// crafts that target this one.
func (s *Spacecraft) TargetPoint(p autopilot.TargetPoint) mgl64.Vec3 {
	st := s.State()
	switch p {
	case autopilot.PointFrontPort:
		return st.ToWorld(s.ports[docking.Front].Position)
	case autopilot.PointBackPort:
		return st.ToWorld(s.ports[docking.Back].Position)
	default:
		return st.Position
	}
}

// Docked reports whether any port is occupied.
func (s *Spacecraft) Docked() bool {
	for _, p := range s.ports {
		if p.Occupied() {
			return true
		}
	}
	return false
}

package engine

import (
	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-rendezvous/pkg/spacecraft"
)

// System priorities. The ecs world runs higher priorities first.
const (
	priorityDocking = 40
	priorityCluster = 30
	priorityControl = 20
	priorityPhysics = 10
)

// craftSet keeps the crafts a system works on in insertion order, which is
// also id order because ids are handed out monotonically.
type craftSet struct {
	crafts []*spacecraft.Spacecraft
}

func (s *craftSet) Add(c *spacecraft.Spacecraft) {
	s.crafts = append(s.crafts, c)
}

func (s *craftSet) Remove(e ecs.BasicEntity) {
	for i, c := range s.crafts {
		if c.ID() == e.ID() {
			s.crafts = append(s.crafts[:i], s.crafts[i+1:]...)
			return
		}
	}
}

// dockingSystem advances every docking state machine.
type dockingSystem struct {
	craftSet
	sim *Simulation
}

func (d *dockingSystem) Priority() int { return priorityDocking }

func (d *dockingSystem) Update(dt float32) {
	for _, c := range d.crafts {
		c.Docking().Update(d.sim.ctx, d.sim.dt)
	}
}

// clusterSystem shares targets between docked crafts and rescales their
// thrust to the combined mass.
type clusterSystem struct {
	craftSet
	sim *Simulation
}

func (c *clusterSystem) Priority() int { return priorityCluster }

func (c *clusterSystem) Update(dt float32) {
	seen := make(map[uint64]bool, len(c.crafts))
	live := make(map[uint64]bool)
	for _, craft := range c.crafts {
		if seen[craft.ID()] {
			continue
		}
		members := spacecraft.Cluster(craft, c.sim)
		for _, m := range members {
			seen[m.ID()] = true
		}
		spacecraft.UpdateClusterScaling(c.sim.ctx, members)
		leader := spacecraft.SyncCluster(members)
		if len(members) < 2 {
			continue
		}
		live[members[0].ID()] = true
		c.sim.noteLeader(members, leader)
	}
	for key := range c.sim.leaders {
		if !live[key] {
			delete(c.sim.leaders, key)
		}
	}
}

// controlSystem turns autopilot and manual commands into thruster forces.
type controlSystem struct {
	craftSet
	sim    *Simulation
	firing map[uint64][]bool
}

func (c *controlSystem) Priority() int { return priorityControl }

func (c *controlSystem) Update(dt float32) {
	for _, craft := range c.crafts {
		c.firing[craft.ID()] = craft.Controller().ApplyForces(c.sim.ctx, c.sim.dt)
	}
}

func (c *controlSystem) Remove(e ecs.BasicEntity) {
	c.craftSet.Remove(e)
	delete(c.firing, e.ID())
}

// physicsSystem steps the physics world.
type physicsSystem struct {
	sim *Simulation
}

func (p *physicsSystem) Priority() int { return priorityPhysics }

func (p *physicsSystem) Update(dt float32) {
	p.sim.world.Step(p.sim.dt)
}

func (p *physicsSystem) Remove(ecs.BasicEntity) {}

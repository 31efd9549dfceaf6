package docking

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
	"github.com/opd-ai/go-rendezvous/pkg/thruster"
)

var hull = mgl64.Vec3{1.5, 1.5, 2.5}

type craft struct {
	id    uint64
	body  *physics.RigidBody
	ports [2]*Port
	ap    *autopilot.Autopilot
}

func (c *craft) ID() uint64                       { return c.id }
func (c *craft) State() physics.State             { return c.body.State() }
func (c *craft) BodyID() physics.BodyID           { return c.body.ID() }
func (c *craft) Autopilot() *autopilot.Autopilot { return c.ap }
func (c *craft) Port(id PortID) *Port {
	if id < 0 || int(id) >= len(c.ports) {
		return nil
	}
	return c.ports[id]
}

type registry map[uint64]*craft

func (r registry) Vehicle(id uint64) (Vehicle, bool) {
	c, ok := r[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func setup(t *testing.T) (*physics.World, registry, *craft, *craft) {
	t.Helper()
	w := physics.NewWorld()
	reg := registry{}
	add := func(id uint64, pos mgl64.Vec3) *craft {
		b := w.AddBody(physics.BodySpec{Mass: 1000, HalfExtents: hull, Position: pos, Orientation: mgl64.QuatIdent()})
		alloc := thruster.NewGrouped(thruster.StandardLayout(hull, 200), 1e-6)
		c := &craft{id: id, body: b, ports: StandardPorts(hull), ap: autopilot.New(id, autopilot.DefaultConfig(), hull, alloc)}
		reg[id] = c
		return c
	}
	return w, reg, add(1, mgl64.Vec3{}), add(2, mgl64.Vec3{0, 0, 50})
}

func TestTryDock_JoinsBothSides(t *testing.T) {
	w, _, a, b := setup(t)
	a.ap.EnableMode(autopilot.GoToPosition)
	b.ap.EnableMode(autopilot.CancelRotation)

	id, err := TryDock(w, a, Front, b, Back)
	require.NoError(t, err)
	assert.True(t, w.Constrained(id))

	la, ok := a.Port(Front).Link()
	require.True(t, ok)
	assert.Equal(t, Link{Partner: 2, PartnerPort: Back, Constraint: id}, la)
	lb, ok := b.Port(Back).Link()
	require.True(t, ok)
	assert.Equal(t, Link{Partner: 1, PartnerPort: Front, Constraint: id}, lb)

	assert.False(t, a.ap.Enabled())
	assert.False(t, b.ap.Enabled())
}

func TestTryDock_Preconditions(t *testing.T) {
	w, _, a, b := setup(t)
	_, err := TryDock(w, a, Front, b, Back)
	require.NoError(t, err)

	w2, _, c, d := setup(t)

	tests := []struct {
		name    string
		joints  physics.Joints
		a       Vehicle
		pa      PortID
		b       Vehicle
		pb      PortID
		wantErr error
	}{
		{"occupied_target_port", w, a, Back, b, Back, ErrPortOccupied},
		{"occupied_own_port", w, a, Front, b, Front, ErrPortOccupied},
		{"same_vehicle", w2, c, Front, c, Back, ErrSameVehicle},
		{"missing_port", w2, c, PortID(7), d, Back, ErrNoPort},
		{"missing_vehicle", w2, nil, Front, d, Back, ErrNoVehicle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before []bool
			for _, v := range []*craft{a, b, c, d} {
				before = append(before, v.Port(Front).Occupied(), v.Port(Back).Occupied())
			}

			assert.False(t, Dock(tt.joints, tt.a, tt.pa, tt.b, tt.pb))
			_, err := TryDock(tt.joints, tt.a, tt.pa, tt.b, tt.pb)
			assert.ErrorIs(t, err, tt.wantErr)

			var after []bool
			for _, v := range []*craft{a, b, c, d} {
				after = append(after, v.Port(Front).Occupied(), v.Port(Back).Occupied())
			}
			assert.Equal(t, before, after, "occupancy must not change on failure")
		})
	}
}

func TestUndock_ClearsBothSides(t *testing.T) {
	w, reg, a, b := setup(t)
	id, err := TryDock(w, a, Front, b, Back)
	require.NoError(t, err)

	require.True(t, Undock(w, reg, b, Back))
	assert.False(t, a.Port(Front).Occupied())
	assert.False(t, b.Port(Back).Occupied())
	assert.False(t, w.Constrained(id))

	assert.ErrorIs(t, TryUndock(w, reg, a, Front), ErrNotDocked)
}

func TestUndock_PartnerGone(t *testing.T) {
	w, reg, a, b := setup(t)
	_, err := TryDock(w, a, Front, b, Back)
	require.NoError(t, err)
	require.NoError(t, w.RemoveBody(b.BodyID()))
	delete(reg, b.ID())

	require.NoError(t, TryUndock(w, reg, a, Front))
	assert.False(t, a.Port(Front).Occupied())
}

func TestTrajectory_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		waypoints []mgl64.Vec3
		total     float64
	}{
		{"two_points", []mgl64.Vec3{{0, 0, 0}, {0, 0, 10}}, 25},
		{"diagonal", []mgl64.Vec3{{1, 2, 3}, {-4, 6, 0}}, 3},
		{"three_points", []mgl64.Vec3{{0, 0, 0}, {3, 0, 0}, {3, 4, 0}}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrajectory(tt.waypoints, tt.total)
			pos, vel := tr.Update(tt.total)
			assert.InDelta(t, 0, pos.Sub(tt.waypoints[len(tt.waypoints)-1]).Len(), 1e-9)
			assert.InDelta(t, 0, vel.Len(), 1e-9)

			start, _ := tr.Update(0)
			assert.Equal(t, tt.waypoints[0], start)
		})
	}
}

func TestTrajectory_TimingProportionalToLength(t *testing.T) {
	// segments of length 3 and 4 over 7 seconds: corner reached at t=3
	tr := NewTrajectory([]mgl64.Vec3{{0, 0, 0}, {3, 0, 0}, {3, 4, 0}}, 7)

	corner, _ := tr.Update(3)
	assert.InDelta(t, 0, corner.Sub(mgl64.Vec3{3, 0, 0}).Len(), 1e-9)

	mid, vel := tr.Update(1.5)
	assert.InDelta(t, 0, mid.Sub(mgl64.Vec3{1.5, 0, 0}).Len(), 1e-9)
	assert.InDelta(t, 0, vel.Sub(mgl64.Vec3{1, 0, 0}).Len(), 1e-6)

	_, vel = tr.Update(5)
	assert.InDelta(t, 0, vel.Sub(mgl64.Vec3{0, 1, 0}).Len(), 1e-6)
}

func TestTrajectory_Degenerate(t *testing.T) {
	p := mgl64.Vec3{1, 1, 1}
	tr := NewTrajectory([]mgl64.Vec3{p, p}, 5)
	pos, vel := tr.Update(2)
	assert.Equal(t, p, pos)
	assert.Equal(t, mgl64.Vec3{}, vel)

	empty := NewTrajectory(nil, 5)
	pos, vel = empty.Update(1)
	assert.Equal(t, mgl64.Vec3{}, pos)
	assert.Equal(t, mgl64.Vec3{}, vel)
}

func TestController_StartAndCancel(t *testing.T) {
	w, reg, a, _ := setup(t)
	c := NewController(a, reg, w, DefaultConfig())

	var transitions []string
	c.AddObserver(func(from, to Phase, target uint64, reason string) {
		transitions = append(transitions, from.String()+">"+to.String()+":"+reason)
	})

	require.True(t, c.StartDocking(context.Background(), 2, Front, Back))
	assert.Equal(t, Approaching, c.Phase())
	assert.True(t, a.ap.IsActive(autopilot.GoToPosition))

	c.Update(context.Background(), 1.0/60)
	// standoff: 10 m out from the back port at z=47.5, minus our port offset
	assert.InDelta(t, 0, a.ap.TargetPosition().Sub(mgl64.Vec3{0, 0, 35}).Len(), 1e-9)

	c.Cancel(context.Background())
	assert.Equal(t, Idle, c.Phase())
	assert.False(t, a.ap.Enabled())
	assert.False(t, a.Port(Front).Occupied())

	// cancelling again does nothing
	c.Cancel(context.Background())
	assert.Equal(t, []string{"idle>approaching:", "approaching>idle:cancelled"}, transitions)
}

func TestController_StartPreconditions(t *testing.T) {
	w, reg, a, b := setup(t)
	c := NewController(a, reg, w, DefaultConfig())

	assert.ErrorIs(t, c.TryStartDocking(context.Background(), 1, Front, Back), ErrSameVehicle)
	assert.ErrorIs(t, c.TryStartDocking(context.Background(), 9, Front, Back), ErrNoVehicle)
	assert.ErrorIs(t, c.TryStartDocking(context.Background(), 2, Front, PortID(5)), ErrNoPort)

	// occupy the target port through a third craft
	third := &craft{id: 3, body: w.AddBody(physics.BodySpec{Mass: 1000, HalfExtents: hull, Position: mgl64.Vec3{0, 0, 44}}), ports: StandardPorts(hull)}
	reg[3] = third
	require.True(t, Dock(w, third, Front, b, Back))

	assert.False(t, c.StartDocking(context.Background(), 2, Front, Back))
	assert.Equal(t, Idle, c.Phase())
}

func TestController_AbortsWhenTargetVanishes(t *testing.T) {
	w, reg, a, _ := setup(t)
	c := NewController(a, reg, w, DefaultConfig())
	require.True(t, c.StartDocking(context.Background(), 2, Front, Back))

	delete(reg, 2)
	c.Update(context.Background(), 1.0/60)
	assert.Equal(t, Idle, c.Phase())
	assert.False(t, a.ap.Enabled())
}

func TestController_AbortsWhenPortTaken(t *testing.T) {
	w, reg, a, b := setup(t)
	c := NewController(a, reg, w, DefaultConfig())
	require.True(t, c.StartDocking(context.Background(), 2, Front, Back))

	third := &craft{id: 3, body: w.AddBody(physics.BodySpec{Mass: 1000, HalfExtents: hull, Position: mgl64.Vec3{0, 0, 44}}), ports: StandardPorts(hull)}
	reg[3] = third
	require.True(t, Dock(w, third, Front, b, Back))

	var reason string
	c.AddObserver(func(_, _ Phase, _ uint64, r string) { reason = r })
	c.Update(context.Background(), 1.0/60)
	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, ReasonPortOccupied, reason)
}

func TestController_DocksFromStandoff(t *testing.T) {
	w, reg, a, b := setup(t)
	c := NewController(a, reg, w, DefaultConfig())
	require.True(t, c.StartDocking(context.Background(), 2, Front, Back))

	layout := thruster.StandardLayout(hull, 200)
	ctx := context.Background()
	dt := 1.0 / 60
	for i := 0; i < 12000 && c.Phase() != Docked; i++ {
		c.Update(ctx, dt)
		if c.Phase() == Docked {
			break
		}
		s := a.State()
		duties := a.ap.CalculateAutopilotForces(ctx, s, dt)
		for j, th := range layout {
			if duties[j] > 0 {
				a.body.ApplyForceAt(s.Orientation.Rotate(th.Force()).Mul(duties[j]), s.ToWorld(th.Position))
			}
		}
		w.Step(dt)
	}

	require.Equal(t, Docked, c.Phase())
	assert.True(t, a.Port(Front).Occupied())
	assert.True(t, b.Port(Back).Occupied())
	pa, _, _ := a.Port(Front).World(a.State())
	pb, _, _ := b.Port(Back).World(b.State())
	assert.Less(t, pa.Sub(pb).Len(), 0.1)

	require.True(t, c.Undock(ctx))
	assert.Equal(t, Idle, c.Phase())
	assert.False(t, b.Port(Back).Occupied())
}

func TestController_ReleasedElsewhere(t *testing.T) {
	w, reg, a, b := setup(t)
	c := NewController(a, reg, w, DefaultConfig())
	require.True(t, c.StartDocking(context.Background(), 2, Front, Back))
	// force the joint from outside and let the controller observe it
	c.phase = Docked
	_, err := TryDock(w, a, Front, b, Back)
	require.NoError(t, err)

	c.Update(context.Background(), 1.0/60)
	assert.Equal(t, Docked, c.Phase())

	require.True(t, Undock(w, reg, b, Back))
	var reason string
	c.AddObserver(func(_, _ Phase, _ uint64, r string) { reason = r })
	c.Update(context.Background(), 1.0/60)
	assert.Equal(t, Idle, c.Phase())
	assert.Equal(t, ReasonReleased, reason)
}

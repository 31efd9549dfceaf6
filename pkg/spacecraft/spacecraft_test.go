package spacecraft

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/docking"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

const dt = 1.0 / 60

type fleet map[uint64]*Spacecraft

func (f fleet) Vehicle(id uint64) (docking.Vehicle, bool) {
	s, ok := f[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (f fleet) Spacecraft(id uint64) (*Spacecraft, bool) {
	s, ok := f[id]
	return s, ok
}

func (f fleet) ResolveTarget(id uint64) (autopilot.Target, bool) {
	s, ok := f[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func newCraft(t *testing.T, w *physics.World, f fleet, mass float64, pos mgl64.Vec3) *Spacecraft {
	t.Helper()
	return newCraftFacing(t, w, f, mass, pos, mgl64.QuatIdent())
}

func newCraftFacing(t *testing.T, w *physics.World, f fleet, mass float64, pos mgl64.Vec3, q mgl64.Quat) *Spacecraft {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Hull.Mass = mass
	body := w.AddBody(physics.BodySpec{
		Mass:        mass,
		HalfExtents: cfg.Hull.HalfExtents,
		Position:    pos,
		Orientation: q,
	})
	s, err := New("craft", body, cfg, Env{Registry: f, Joints: w, Resolver: f})
	require.NoError(t, err)
	f[s.ID()] = s
	return s
}

func TestNew_Assembly(t *testing.T) {
	w, f := physics.NewWorld(), fleet{}
	s := newCraft(t, w, f, 1000, mgl64.Vec3{1, 2, 3})

	assert.NotZero(t, s.ID())
	assert.Equal(t, s.ID(), s.Autopilot().ID())
	assert.Len(t, s.Thrusters(), 24)
	assert.Equal(t, 24, s.Allocator().Len())
	assert.Equal(t, docking.Idle, s.Docking().Phase())
	assert.Equal(t, 1000.0, s.Mass())
	assert.Nil(t, s.Port(docking.PortID(2)))
	assert.False(t, s.Docked())

	_, err := New("nobody", nil, DefaultConfig(), Env{})
	assert.Error(t, err)
}

func TestTargetPoint(t *testing.T) {
	w, f := physics.NewWorld(), fleet{}
	s := newCraft(t, w, f, 1000, mgl64.Vec3{0, 0, 10})

	tests := []struct {
		point autopilot.TargetPoint
		want  mgl64.Vec3
	}{
		{autopilot.PointCenter, mgl64.Vec3{0, 0, 10}},
		{autopilot.PointFrontPort, mgl64.Vec3{0, 0, 12.5}},
		{autopilot.PointBackPort, mgl64.Vec3{0, 0, 7.5}},
	}
	for _, tt := range tests {
		t.Run(tt.point.String(), func(t *testing.T) {
			assert.InDelta(t, 0, s.TargetPoint(tt.point).Sub(tt.want).Len(), 1e-9)
		})
	}
}

func TestHandleKeys(t *testing.T) {
	w, f := physics.NewWorld(), fleet{}
	s := newCraft(t, w, f, 1000, mgl64.Vec3{})
	c := s.Controller()
	ctx := context.Background()

	assert.False(t, c.HandleKeyDown(ctx, "KeyZ"))
	assert.False(t, c.HandleKeyUp("KeyZ"))

	// a toggle fires once per press, auto-repeat included
	require.True(t, c.HandleKeyDown(ctx, "Digit5"))
	require.True(t, c.HandleKeyDown(ctx, "Digit5"))
	assert.True(t, s.Autopilot().IsActive(autopilot.GoToPosition))

	require.True(t, c.HandleKeyUp("Digit5"))
	require.True(t, c.HandleKeyDown(ctx, "Digit4"))
	assert.True(t, s.Autopilot().IsActive(autopilot.CancelLinearMotion))
	assert.False(t, s.Autopilot().IsActive(autopilot.GoToPosition))

	c.HandleKeyUp("Digit4")
	c.HandleKeyDown(ctx, "KeyT")
	assert.False(t, s.Autopilot().Enabled())
	c.HandleKeyUp("KeyT")
	c.HandleKeyDown(ctx, "KeyT")
	assert.ElementsMatch(t, []autopilot.Mode{autopilot.CancelRotation, autopilot.CancelLinearMotion}, s.Autopilot().ActiveModes())
}

func TestManualThrust(t *testing.T) {
	w, f := physics.NewWorld(), fleet{}
	s := newCraft(t, w, f, 1000, mgl64.Vec3{})
	c := s.Controller()
	ctx := context.Background()

	require.True(t, c.HandleKeyDown(ctx, "KeyW"))
	var firing []bool
	for i := 0; i < 60; i++ {
		firing = c.ApplyForces(ctx, dt)
		w.Step(dt)
	}

	for i, th := range s.Thrusters() {
		assert.Equal(t, th.Force()[2] > 0.5, firing[i], "thruster %d", i)
	}
	st := s.State()
	assert.Greater(t, st.LinearVelocity[2], 0.5)
	assert.InDelta(t, 0, st.LinearVelocity[0], 1e-9)
	assert.InDelta(t, 0, st.LinearVelocity[1], 1e-9)
	assert.InDelta(t, 0, st.AngularVelocity.Len(), 1e-9)

	c.HandleKeyUp("KeyW")
	for i := 0; i < 10; i++ {
		firing = c.ApplyForces(ctx, dt)
	}
	assert.NotContains(t, firing, true)
}

func TestLatch(t *testing.T) {
	cfg := DefaultLatchConfig()
	l := latch{elapsed: cfg.MinOffTime}
	const desired, threshold = 100.0, 2.0

	// switches on at once from rest and eases toward the request
	f := l.update(cfg, desired, threshold, dt)
	require.True(t, l.on)
	assert.InDelta(t, 20, f, 1e-9)
	f = l.update(cfg, desired, threshold, dt)
	assert.InDelta(t, 36, f, 1e-9)

	// held on for the minimum on time after the request drops
	l = latch{elapsed: cfg.MinOffTime}
	l.update(cfg, desired, threshold, dt)
	for tick := 2; tick <= 3; tick++ {
		l.update(cfg, 0, threshold, dt)
		assert.True(t, l.on, "tick %d", tick)
	}
	l.update(cfg, 0, threshold, dt)
	require.False(t, l.on)
	assert.Zero(t, l.applied)

	// and held off for the minimum off time
	for tick := 5; tick <= 6; tick++ {
		assert.Zero(t, l.update(cfg, desired, threshold, dt), "tick %d", tick)
		assert.False(t, l.on, "tick %d", tick)
	}
	l.update(cfg, desired, threshold, dt)
	assert.True(t, l.on)

	// requests under the threshold never fire
	l = latch{elapsed: cfg.MinOffTime}
	assert.Zero(t, l.update(cfg, threshold, threshold, dt))
	assert.False(t, l.on)
}

func TestApplyForces_WithinBudget(t *testing.T) {
	w, f := physics.NewWorld(), fleet{}
	s := newCraft(t, w, f, 1000, mgl64.Vec3{})
	c := s.Controller()
	ctx := context.Background()

	s.Autopilot().SetTargetPosition(mgl64.Vec3{100, -50, 300})
	s.Autopilot().EnableMode(autopilot.GoToPosition)
	s.Autopilot().SetTargetOrientation(mgl64.QuatRotate(2, mgl64.Vec3{1, 1, 0}.Normalize()))
	s.Autopilot().EnableMode(autopilot.OrientationMatch)
	for _, key := range []string{"KeyW", "KeyD", "KeyR", "KeyK", "KeyJ", "KeyU"} {
		c.HandleKeyDown(ctx, key)
	}

	caps := c.Capacities()
	for i := 0; i < 120; i++ {
		c.ApplyForces(ctx, dt)
		for j, force := range c.Forces() {
			require.LessOrEqual(t, force, caps[j]+1e-9)
			require.GreaterOrEqual(t, force, 0.0)
		}
		for _, d := range c.Duties() {
			require.LessOrEqual(t, d, 1.0)
		}
		w.Step(dt)
	}
}

func TestSetThrusterStrengths(t *testing.T) {
	w, f := physics.NewWorld(), fleet{}
	s := newCraft(t, w, f, 1000, mgl64.Vec3{})
	c := s.Controller()
	ctx := context.Background()

	assert.Error(t, c.SetThrusterStrengths([]float64{1, 1}))
	bad := make([]float64, 24)
	bad[3] = -1
	assert.Error(t, c.SetThrusterStrengths(bad))
	bad[3] = math.NaN()
	assert.Error(t, c.SetThrusterStrengths(bad))

	strengths := make([]float64, 24)
	for i := range strengths {
		strengths[i] = 0.5
	}
	var disabled int
	for i, th := range s.Thrusters() {
		if th.Force()[2] > 0.5 {
			strengths[i] = 0
			disabled = i
		}
	}
	require.NoError(t, c.SetThrusterStrengths(strengths))
	assert.Equal(t, strengths, c.Strengths())
	for i, capacity := range c.Capacities() {
		if strengths[i] == 0 {
			assert.Zero(t, capacity)
		} else {
			assert.Equal(t, 100.0, capacity)
		}
	}
	assert.Zero(t, c.Capacities()[disabled])
	assert.Equal(t, c.Capacities(), s.Allocator().Capacities())

	c.HandleKeyDown(ctx, "KeyW")
	for i := 0; i < 30; i++ {
		firing := c.ApplyForces(ctx, dt)
		assert.False(t, firing[disabled])
	}
}

func TestKeyBindingsValidate(t *testing.T) {
	assert.NoError(t, DefaultKeyBindings().Validate())
	assert.Error(t, KeyBindings{"keyw": ThrustForward}.Validate())
	assert.Error(t, KeyBindings{"KeyW": Action("warp")}.Validate())

	for code, action := range DefaultKeyBindings() {
		assert.True(t, action.Valid(), code)
	}
	assert.True(t, ThrustUp.Held())
	assert.False(t, ToggleAutopilot.Held())
}

func TestKeyBindingsJSON(t *testing.T) {
	keys := KeyBindings{"KeyW": ThrustForward, "ArrowUp": ThrustForward, "KeyT": ToggleAutopilot}
	data, err := json.Marshal(keys)
	require.NoError(t, err)
	assert.JSONEq(t, `{"thrust_forward":["ArrowUp","KeyW"],"toggle_autopilot":["KeyT"]}`, string(data))

	var back KeyBindings
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, keys, back)

	require.NoError(t, json.Unmarshal([]byte(`{"yaw_left":"KeyQ, KeyJ"}`), &back))
	assert.Equal(t, KeyBindings{"KeyQ": YawLeft, "KeyJ": YawLeft}, back)

	assert.Error(t, json.Unmarshal([]byte(`{"yaw_left":3}`), &back))
}

package spacecraft

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-rendezvous/pkg/autopilot"
	"github.com/opd-ai/go-rendezvous/pkg/docking"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// dockedPair returns a heavy craft a docked front-to-back with b, and a
// third free craft.
func dockedPair(t *testing.T, massA, massB float64) (*physics.World, fleet, *Spacecraft, *Spacecraft, *Spacecraft) {
	t.Helper()
	w, f := physics.NewWorld(), fleet{}
	a := newCraft(t, w, f, massA, mgl64.Vec3{})
	b := newCraft(t, w, f, massB, mgl64.Vec3{0, 0, 5})
	free := newCraft(t, w, f, 1000, mgl64.Vec3{100, 0, 0})
	require.True(t, docking.Dock(w, a, docking.Front, b, docking.Back))
	return w, f, a, b, free
}

func TestCluster(t *testing.T) {
	w, f, a, b, free := dockedPair(t, 1000, 1000)

	assert.Equal(t, []*Spacecraft{a, b}, Cluster(a, f))
	assert.Equal(t, []*Spacecraft{a, b}, Cluster(b, f))
	assert.Equal(t, []*Spacecraft{free}, Cluster(free, f))

	// a chain through b's front port
	c := newCraft(t, w, f, 1000, mgl64.Vec3{0, 0, 10})
	require.True(t, docking.Dock(w, b, docking.Front, c, docking.Back))
	assert.Equal(t, []*Spacecraft{a, b, c}, Cluster(a, f))

	// a removed partner drops out
	delete(f, c.ID())
	assert.Equal(t, []*Spacecraft{a, b}, Cluster(a, f))
}

func TestLeader(t *testing.T) {
	_, _, a, b, _ := dockedPair(t, 1000, 1000)
	members := []*Spacecraft{a, b}

	assert.Same(t, a, Leader(members), "smallest id when no autopilot is enabled")

	b.Autopilot().EnableMode(autopilot.CancelRotation)
	assert.Same(t, b, Leader(members), "enabled autopilot wins")

	a.Autopilot().EnableMode(autopilot.CancelLinearMotion)
	assert.Same(t, a, Leader(members), "smallest id among enabled")

	assert.Nil(t, Leader(nil))
}

func TestSyncCluster(t *testing.T) {
	_, _, a, b, _ := dockedPair(t, 1000, 1000)

	var seen []autopilot.Mode
	b.Autopilot().AddObserver(func(m autopilot.Mode, active bool) {
		if active {
			seen = append(seen, m)
		}
	})

	target := mgl64.Vec3{20, 0, 0}
	q := mgl64.QuatRotate(0.5, mgl64.Vec3{0, 1, 0})
	a.Autopilot().SetTargetPosition(target)
	a.Autopilot().SetTargetOrientation(q)
	a.Autopilot().EnableMode(autopilot.GoToPosition)
	a.Autopilot().EnableMode(autopilot.OrientationMatch)
	require.True(t, a.Autopilot().SetTargetObject(b.ID()))

	leader := SyncCluster([]*Spacecraft{a, b})
	require.Same(t, a, leader)

	assert.Equal(t, a.Autopilot().ActiveModes(), b.Autopilot().ActiveModes())
	assert.ElementsMatch(t, []autopilot.Mode{autopilot.GoToPosition, autopilot.OrientationMatch}, seen)
	assert.InDelta(t, 0, b.Autopilot().TargetPosition().Sub(mgl64.Vec3{20, 0, 5}).Len(), 1e-9)
	assert.InDelta(t, 0, b.Autopilot().TargetOrientation().Sub(q).Len(), 1e-9)
	_, tracking := b.Autopilot().TargetObject()
	assert.False(t, tracking)

	// the leader is left untouched
	id, ok := a.Autopilot().TargetObject()
	assert.True(t, ok)
	assert.Equal(t, b.ID(), id)

	// the partner's mode set is its own copy
	snap := b.Autopilot().Snapshot()
	snap.Modes[autopilot.CancelLinearMotion] = true
	assert.False(t, a.Autopilot().Snapshot().Active(autopilot.CancelLinearMotion))

	// with the leader switched off, the still-engaged partner takes over
	a.Autopilot().SetEnabled(false)
	require.Same(t, b, SyncCluster([]*Spacecraft{a, b}))
	assert.Equal(t, b.Autopilot().ActiveModes(), a.Autopilot().ActiveModes())
	assert.InDelta(t, 0, a.Autopilot().TargetPosition().Sub(mgl64.Vec3{20, 0, 0}).Len(), 1e-9)
}

// facingPair returns crafts a and b docked front to front, b turned half a
// revolution about Y.
func facingPair(t *testing.T) (*physics.World, fleet, *Spacecraft, *Spacecraft) {
	t.Helper()
	w, f := physics.NewWorld(), fleet{}
	a := newCraft(t, w, f, 1000, mgl64.Vec3{})
	b := newCraftFacing(t, w, f, 1000, mgl64.Vec3{0, 0, 5}, mgl64.QuatRotate(math.Pi, mgl64.Vec3{0, 1, 0}))
	require.True(t, docking.Dock(w, a, docking.Front, b, docking.Front))
	return w, f, a, b
}

func quatClose(t *testing.T, want, got mgl64.Quat) {
	t.Helper()
	assert.InDelta(t, 0, physics.RotationAngle(physics.QuatError(want, got)), 1e-9, "want %v, got %v", want, got)
}

func TestSyncCluster_RotatedPartner(t *testing.T) {
	flip := mgl64.QuatRotate(math.Pi, mgl64.Vec3{0, 1, 0})
	target := mgl64.QuatRotate(0.3, mgl64.Vec3{1, 0, 0})

	tests := []struct {
		name   string
		setup  func(a *Spacecraft)
		expect mgl64.Quat
	}{
		{
			name: "hold current attitude",
			setup: func(a *Spacecraft) {
				a.Autopilot().SetTargetOrientation(mgl64.QuatIdent())
				a.Autopilot().EnableMode(autopilot.OrientationMatch)
			},
			expect: flip,
		},
		{
			name: "turn the assembly",
			setup: func(a *Spacecraft) {
				a.Autopilot().SetTargetOrientation(target)
				a.Autopilot().EnableMode(autopilot.OrientationMatch)
			},
			expect: target.Mul(flip),
		},
		{
			name: "mirrored target",
			setup: func(a *Spacecraft) {
				a.Autopilot().SetTargetOrientation(target)
				a.Autopilot().SetMirror(true)
				a.Autopilot().EnableMode(autopilot.OrientationMatch)
			},
			expect: target,
		},
		{
			name: "point at a position ahead",
			setup: func(a *Spacecraft) {
				a.Autopilot().SetTargetPosition(mgl64.Vec3{0, 0, -40})
				a.Autopilot().EnableMode(autopilot.PointToPosition)
			},
			expect: flip.Mul(flip),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, a, b := facingPair(t)
			tt.setup(a)

			require.Same(t, a, SyncCluster([]*Spacecraft{a, b}))
			assert.True(t, b.Autopilot().Following())
			assert.False(t, b.Autopilot().Snapshot().Mirror)
			quatClose(t, tt.expect, b.Autopilot().TargetOrientation())

			leaderWants, ok := a.Autopilot().DesiredOrientation(a.State())
			require.True(t, ok)
			partnerWants, ok := b.Autopilot().DesiredOrientation(b.State())
			require.True(t, ok)
			// both ends agree on the attitude of the assembly
			quatClose(t, leaderWants, partnerWants.Mul(flip.Inverse()))
		})
	}
}

func TestSyncCluster_LoneCraftStopsFollowing(t *testing.T) {
	w, f, a, b := facingPair(t)
	a.Autopilot().EnableMode(autopilot.OrientationMatch)
	SyncCluster(Cluster(a, f))
	require.True(t, b.Autopilot().Following())

	require.True(t, docking.Undock(w, f, a, docking.Front))
	require.Same(t, b, SyncCluster(Cluster(b, f)))
	assert.False(t, b.Autopilot().Following())
	// the last attitude handed over is kept
	quatClose(t, mgl64.QuatRotate(math.Pi, mgl64.Vec3{0, 1, 0}), b.Autopilot().TargetOrientation())
}

func TestUpdateClusterScaling(t *testing.T) {
	w, f, a, b, free := dockedPair(t, 1000, 500)
	ctx := context.Background()

	UpdateClusterScaling(ctx, Cluster(b, f))
	assert.Equal(t, 3.0, b.Controller().ThrustScale())
	assert.Equal(t, 3.0, b.Autopilot().ThrustScale())
	assert.Equal(t, 1.5, a.Controller().ThrustScale())
	for _, capacity := range b.Controller().Capacities() {
		assert.Equal(t, 600.0, capacity)
	}
	assert.Equal(t, b.Controller().Capacities(), b.Allocator().Capacities())

	UpdateClusterScaling(ctx, Cluster(free, f))
	assert.Equal(t, 1.0, free.Controller().ThrustScale())

	// undocking returns both crafts to their own budgets
	require.True(t, docking.Undock(w, f, a, docking.Front))
	UpdateClusterScaling(ctx, Cluster(a, f))
	UpdateClusterScaling(ctx, Cluster(b, f))
	assert.Equal(t, 1.0, a.Controller().ThrustScale())
	assert.Equal(t, 1.0, b.Controller().ThrustScale())
	for _, capacity := range b.Controller().Capacities() {
		assert.Equal(t, 200.0, capacity)
	}
}

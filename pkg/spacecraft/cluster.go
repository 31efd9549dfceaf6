package spacecraft

import (
	"context"
	"sort"

	"github.com/brunoga/deep"
)

// Lookup finds live crafts by id.
type Lookup interface {
	Spacecraft(id uint64) (*Spacecraft, bool)
}

// Cluster returns s and every craft joined to it through docked ports,
// directly or transitively, ordered by id.
func Cluster(s *Spacecraft, lookup Lookup) []*Spacecraft {
	seen := map[uint64]*Spacecraft{s.ID(): s}
	queue := []*Spacecraft{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range cur.ports {
			link, ok := p.Link()
			if !ok {
				continue
			}
			if _, done := seen[link.Partner]; done {
				continue
			}
			partner, ok := lookup.Spacecraft(link.Partner)
			if !ok {
				continue
			}
			seen[link.Partner] = partner
			queue = append(queue, partner)
		}
	}

	out := make([]*Spacecraft, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Leader picks the member with the smallest id among those whose autopilot
// is enabled, or the smallest id overall when none is.
func Leader(members []*Spacecraft) *Spacecraft {
	var leader, fallback *Spacecraft
	for _, m := range members {
		if fallback == nil || m.ID() < fallback.ID() {
			fallback = m
		}
		if m.pilot.Enabled() && (leader == nil || m.ID() < leader.ID()) {
			leader = m
		}
	}
	if leader == nil {
		return fallback
	}
	return leader
}

// SyncCluster mirrors the leader's modes and targets into every other
// member and returns the leader. Partner target positions keep their
// current offset from the leader, and partners never chase a target
// object themselves. A partner's target orientation is the leader's
// steering attitude composed with the partner's attitude relative to the
// leader, held as given, so rotated partners turn with the assembly
// instead of against it. The leader is read in full before any partner is
// written. A lone craft steers on its own again.
func SyncCluster(members []*Spacecraft) *Spacecraft {
	leader := Leader(members)
	if leader == nil {
		return nil
	}
	leader.pilot.SetFollow(false)
	if len(members) < 2 {
		return leader
	}

	ls := leader.State()
	snapshot := leader.pilot.Snapshot()
	heading, _ := leader.pilot.DesiredOrientation(ls)
	inv := ls.Orientation.Inverse()

	for _, m := range members {
		if m == leader {
			continue
		}
		ms := m.State()
		st := deep.MustCopy(snapshot)
		st.TargetPosition = snapshot.TargetPosition.Add(ms.Position.Sub(ls.Position))
		st.TargetOrientation = heading.Mul(inv.Mul(ms.Orientation)).Normalize()
		st.TargetID = 0
		st.TrackOrientation = false
		st.Mirror = false
		st.Follow = true
		m.pilot.Apply(st)
	}
	return leader
}

// TotalMass returns the summed mass of the members.
func TotalMass(members []*Spacecraft) float64 {
	var total float64
	for _, m := range members {
		total += m.Mass()
	}
	return total
}

// UpdateClusterScaling scales each member's thrust budget by the ratio of
// the cluster mass to its own mass. A lone craft is scaled by 1.
func UpdateClusterScaling(ctx context.Context, members []*Spacecraft) {
	total := TotalMass(members)
	for _, m := range members {
		scale := 1.0
		if own := m.Mass(); own > 0 && len(members) > 1 {
			scale = total / own
		}
		m.controls.SetThrustScale(ctx, scale)
	}
}

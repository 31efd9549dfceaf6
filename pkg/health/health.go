// Package health provides post-run and periodic health checks for the
// simulation: numerical sanity of every craft and consistency of docking
// links. Checks are aggregated by a HealthChecker into one status.
package health

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/opd-ai/go-rendezvous/pkg/docking"
	"github.com/opd-ai/go-rendezvous/pkg/physics"
)

// quatTolerance is how far a stored orientation may drift from unit length.
const quatTolerance = 1e-6

// HealthCheck defines the interface for individual health checks.
type HealthCheck interface {
	// Name returns the unique name of this health check
	Name() string
	// Check performs the health check and returns an error if unhealthy
	Check(ctx context.Context) error
}

// HealthStatus represents the overall health status of the simulation.
type HealthStatus struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentHealth `json:"checks"`
}

// Healthy reports whether every check passed.
func (s HealthStatus) Healthy() bool {
	return s.Status == "healthy"
}

// Failures returns the names of the failing checks in sorted order.
func (s HealthStatus) Failures() []string {
	var out []string
	for name, c := range s.Checks {
		if c.Status != "healthy" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ComponentHealth represents the health status of an individual component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker manages and executes health checks.
type HealthChecker struct {
	checks map[string]HealthCheck
	mu     sync.RWMutex
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]HealthCheck),
	}
}

// AddCheck registers a new health check with the health checker.
// If a check with the same name already exists, it will be replaced.
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name()] = check
}

// CheckHealth executes all registered health checks and returns the aggregated status.
// The overall status is "healthy" only if all individual checks pass.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := HealthStatus{
		Status: "healthy",
		Checks: make(map[string]ComponentHealth),
	}

	for name, check := range hc.checks {
		if err := check.Check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = ComponentHealth{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			status.Checks[name] = ComponentHealth{
				Status: "healthy",
			}
		}
	}

	return status
}

// StateHealthCheck verifies that every craft state is finite and that
// orientations are unit quaternions.
type StateHealthCheck struct {
	states func() map[uint64]physics.State
}

// NewStateHealthCheck creates a numerical health check over the states
// returned by states.
func NewStateHealthCheck(states func() map[uint64]physics.State) *StateHealthCheck {
	return &StateHealthCheck{states: states}
}

// Name returns the name of this health check.
func (s *StateHealthCheck) Name() string {
	return "craft_state"
}

// Check reports the lowest craft id with a broken state.
func (s *StateHealthCheck) Check(ctx context.Context) error {
	states := s.states()
	ids := make([]uint64, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := states[id]
		for name, v := range map[string]interface{ Len() float64 }{
			"position":         st.Position,
			"linear velocity":  st.LinearVelocity,
			"angular velocity": st.AngularVelocity,
		} {
			if l := v.Len(); math.IsNaN(l) || math.IsInf(l, 0) {
				return fmt.Errorf("craft %d: %s is not finite", id, name)
			}
		}
		if n := st.Orientation.Len(); math.IsNaN(n) || math.Abs(n-1) > quatTolerance {
			return fmt.Errorf("craft %d: orientation norm %v", id, n)
		}
	}
	return nil
}

// LinkHealthCheck verifies that every occupied port names a live partner
// whose matching port links back through the same joint.
type LinkHealthCheck struct {
	vehicles func() []docking.Vehicle
	registry docking.Registry
}

// NewLinkHealthCheck creates a docking link health check.
func NewLinkHealthCheck(vehicles func() []docking.Vehicle, registry docking.Registry) *LinkHealthCheck {
	return &LinkHealthCheck{vehicles: vehicles, registry: registry}
}

// Name returns the name of this health check.
func (l *LinkHealthCheck) Name() string {
	return "docking_links"
}

// Check verifies that links are symmetric.
func (l *LinkHealthCheck) Check(ctx context.Context) error {
	for _, v := range l.vehicles() {
		for _, pid := range []docking.PortID{docking.Front, docking.Back} {
			port := v.Port(pid)
			if port == nil {
				continue
			}
			link, ok := port.Link()
			if !ok {
				continue
			}
			partner, ok := l.registry.Vehicle(link.Partner)
			if !ok {
				return fmt.Errorf("craft %d %s: partner %d no longer exists", v.ID(), pid, link.Partner)
			}
			pp := partner.Port(link.PartnerPort)
			if pp == nil {
				return fmt.Errorf("craft %d %s: partner %d has no %s port", v.ID(), pid, link.Partner, link.PartnerPort)
			}
			back, ok := pp.Link()
			if !ok || back.Partner != v.ID() || back.PartnerPort != pid || back.Constraint != link.Constraint {
				return fmt.Errorf("craft %d %s: partner %d %s does not link back", v.ID(), pid, link.Partner, link.PartnerPort)
			}
		}
	}
	return nil
}

// MemoryHealthCheck implements HealthCheck for memory usage monitoring.
type MemoryHealthCheck struct {
	maxMemoryMB    int64
	getMemoryUsage func() int64
}

// NewMemoryHealthCheck creates a health check for memory usage.
func NewMemoryHealthCheck(maxMemoryMB int64, getMemoryUsage func() int64) *MemoryHealthCheck {
	return &MemoryHealthCheck{
		maxMemoryMB:    maxMemoryMB,
		getMemoryUsage: getMemoryUsage,
	}
}

// Name returns the name of this health check.
func (m *MemoryHealthCheck) Name() string {
	return "memory"
}

// Check verifies that memory usage is within acceptable limits.
func (m *MemoryHealthCheck) Check(ctx context.Context) error {
	currentMB := m.getMemoryUsage()
	if currentMB > m.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", currentMB, m.maxMemoryMB)
	}
	return nil
}

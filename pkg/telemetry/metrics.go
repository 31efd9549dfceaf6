// Package telemetry exports simulation metrics through OpenTelemetry and
// records flight data to compressed msgpack streams.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/opd-ai/go-rendezvous/pkg/telemetry"

// Metrics holds the simulation instruments. The zero value is not usable;
// a nil *Metrics records nothing.
type Metrics struct {
	ticks           metric.Int64Counter
	transitions     metric.Int64Counter
	docks           metric.Int64Counter
	rebuilds        metric.Int64Counter
	rebuildFailures metric.Int64Counter
	rebuildDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// OTel provider, which is a no-op unless one has been installed.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	var m Metrics
	var err error
	if m.ticks, err = meter.Int64Counter("rendezvous.sim.ticks",
		metric.WithDescription("Simulation ticks executed")); err != nil {
		return nil, fmt.Errorf("ticks counter: %w", err)
	}
	if m.transitions, err = meter.Int64Counter("rendezvous.docking.transitions",
		metric.WithDescription("Docking phase transitions")); err != nil {
		return nil, fmt.Errorf("transitions counter: %w", err)
	}
	if m.docks, err = meter.Int64Counter("rendezvous.docking.joins",
		metric.WithDescription("Ports joined or released")); err != nil {
		return nil, fmt.Errorf("docks counter: %w", err)
	}
	if m.rebuilds, err = meter.Int64Counter("rendezvous.allocation.rebuilds",
		metric.WithDescription("Pseudo-inverse allocation rebuilds")); err != nil {
		return nil, fmt.Errorf("rebuilds counter: %w", err)
	}
	if m.rebuildFailures, err = meter.Int64Counter("rendezvous.allocation.failures",
		metric.WithDescription("Rebuilds that left the allocator singular")); err != nil {
		return nil, fmt.Errorf("failures counter: %w", err)
	}
	if m.rebuildDuration, err = meter.Float64Histogram("rendezvous.allocation.rebuild_duration",
		metric.WithDescription("Time spent deriving an allocation matrix"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("rebuild histogram: %w", err)
	}
	return &m, nil
}

// Tick counts one simulation step.
func (m *Metrics) Tick(ctx context.Context) {
	if m == nil {
		return
	}
	m.ticks.Add(ctx, 1)
}

// PhaseTransition counts a docking phase change.
func (m *Metrics) PhaseTransition(ctx context.Context, from, to, reason string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("reason", reason),
	))
}

// Join counts a dock (joined true) or an undock.
func (m *Metrics) Join(ctx context.Context, joined bool) {
	if m == nil {
		return
	}
	m.docks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("joined", joined)))
}

// Rebuild records one allocator rebuild.
func (m *Metrics) Rebuild(ctx context.Context, took time.Duration, cached bool, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("cached", cached))
	m.rebuilds.Add(ctx, 1, attrs)
	m.rebuildDuration.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
	if err != nil {
		m.rebuildFailures.Add(ctx, 1)
	}
}

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestRecordingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	require.NoError(t, err)

	samples := []Sample{
		{Tick: 1, Time: 1.0 / 60, Crafts: []CraftSample{{
			ID:          1,
			Name:        "chaser",
			Position:    [3]float64{0, 0, 0.01},
			Orientation: [4]float64{1, 0, 0, 0},
			Phase:       "approaching",
			Modes:       []string{"cancelRotation", "goToPosition"},
			Duties:      []float64{0, 0.25, 1},
		}}},
		{Tick: 2, Time: 2.0 / 60, Crafts: []CraftSample{{ID: 1, Name: "chaser", Phase: "aligning"}}},
	}
	for _, s := range samples {
		require.NoError(t, rec.Record(s))
	}
	assert.Equal(t, 2, rec.Count())
	require.NoError(t, rec.Close())

	got, err := ReadRecording(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, samples[0].Crafts[0], got[0].Crafts[0])
	assert.Equal(t, uint64(2), got[1].Tick)
	assert.Equal(t, "aligning", got[1].Crafts[0].Phase)
}

func TestReadRecording_Empty(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	got, err := ReadRecording(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadRecording_Garbage(t *testing.T) {
	_, err := ReadRecording(bytes.NewReader([]byte("not a recording")))
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.Tick(ctx)
		m.PhaseTransition(ctx, "idle", "approaching", "")
		m.Join(ctx, true)
		m.Rebuild(ctx, 2*time.Millisecond, false, errors.New("singular"))
	})

	var none *Metrics
	assert.NotPanics(t, func() {
		none.Tick(ctx)
		none.Rebuild(ctx, time.Millisecond, true, nil)
	})

	global, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, global)
}

package world

import (
	"context"
	"sync"
	"testing"

	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeVehicle string

func (f fakeVehicle) ID() string { return string(f) }

type fakePlatoon struct {
	id      string
	members []string
}

func (f *fakePlatoon) ID() string          { return f.id }
func (f *fakePlatoon) MemberIDs() []string { return f.members }

func stateAt(id string, x, y float64) core.VehicleState {
	return core.VehicleState{
		VehicleID: id,
		Transform: core.Transform{Location: core.Location{X: x, Y: y}},
	}
}

func TestRegisterVehicle_Duplicate(t *testing.T) {
	w := New()
	require.NoError(t, w.RegisterVehicle(fakeVehicle("a")))

	err := w.RegisterVehicle(fakeVehicle("a"))
	assert.ErrorIs(t, err, ErrDuplicateVehicle)
	assert.Len(t, w.Vehicles(), 1)
}

func TestRegisterPlatoon_Duplicate(t *testing.T) {
	w := New()
	p := &fakePlatoon{id: "p1"}
	require.NoError(t, w.RegisterPlatoon(p))
	assert.ErrorIs(t, w.RegisterPlatoon(p), ErrDuplicatePlatoon)

	got, ok := w.Platoon("p1")
	require.True(t, ok)
	assert.Same(t, p, got)

	w.RemovePlatoon("p1")
	_, ok = w.Platoon("p1")
	assert.False(t, ok)
}

func TestPublish_StampsCurrentTick(t *testing.T) {
	w := New()
	require.NoError(t, w.RegisterVehicle(fakeVehicle("a")))

	w.BeginTick()
	w.BeginTick()
	s, err := w.Publish(stateAt("a", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Tick)
	assert.False(t, s.Time.IsZero())

	got, ok := w.State("a")
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestPublish_UnknownVehicle(t *testing.T) {
	w := New()
	_, err := w.Publish(stateAt("ghost", 0, 0))
	assert.ErrorIs(t, err, ErrUnknownVehicle)
	assert.Empty(t, w.States())
}

func TestFreshState_RespectsAge(t *testing.T) {
	w := New()
	require.NoError(t, w.RegisterVehicle(fakeVehicle("a")))
	w.BeginTick()
	_, err := w.Publish(stateAt("a", 0, 0))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w.BeginTick()
	}

	_, ok := w.FreshState("a", 2)
	assert.False(t, ok, "snapshot is 3 ticks old")
	_, ok = w.FreshState("a", 3)
	assert.True(t, ok)
}

func TestNearby_SortedAndFiltered(t *testing.T) {
	w := New()
	for _, id := range []string{"self", "near", "far", "stale"} {
		require.NoError(t, w.RegisterVehicle(fakeVehicle(id)))
	}
	w.BeginTick()
	_, _ = w.Publish(stateAt("stale", 1, 0))
	w.BeginTick()
	w.BeginTick()
	_, _ = w.Publish(stateAt("self", 0, 0))
	_, _ = w.Publish(stateAt("far", 30, 0))
	_, _ = w.Publish(stateAt("near", 5, 0))

	got := w.Nearby(core.Location{}, 50, "self")
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].VehicleID)
	assert.Equal(t, "far", got[1].VehicleID)

	assert.Len(t, w.Nearby(core.Location{}, 10, "self"), 1)
}

func TestRemoveVehicle_DropsSnapshot(t *testing.T) {
	w := New()
	require.NoError(t, w.RegisterVehicle(fakeVehicle("a")))
	_, _ = w.Publish(stateAt("a", 0, 0))

	w.RemoveVehicle("a")
	_, ok := w.State("a")
	assert.False(t, ok)
	_, ok = w.Vehicle("a")
	assert.False(t, ok)
}

func TestReset_KeepsTick(t *testing.T) {
	w := New()
	require.NoError(t, w.RegisterVehicle(fakeVehicle("a")))
	require.NoError(t, w.RegisterPlatoon(&fakePlatoon{id: "p"}))
	w.BeginTick()

	w.Reset()
	assert.Empty(t, w.Vehicles())
	assert.Empty(t, w.Platoons())
	assert.Equal(t, uint64(1), w.Tick())
}

func TestConcurrentReaders(t *testing.T) {
	w := New()
	require.NoError(t, w.RegisterVehicle(fakeVehicle("a")))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = w.States()
				_ = w.Platoons()
			}
		}()
	}
	for j := 0; j < 100; j++ {
		w.BeginTick()
		_, _ = w.Publish(stateAt("a", float64(j), 0))
	}
	wg.Wait()
	assert.Equal(t, uint64(100), w.Tick())
}

func TestDefaultRecorderIsNop(t *testing.T) {
	w := New()
	require.NotNil(t, w.Recorder())
	w.Recorder().RecordManeuverEvent(core.ManeuverEvent{Kind: core.ManeuverAborted})
}

// platoonGauge collects once and returns the world.platoons data points.
func platoonGauge(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "world.platoons" {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			return g.DataPoints
		}
	}
	return nil
}

func TestPlatoonGauge_UnregisteredOnReset(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	w := New(WithMeterProvider(mp))
	require.NoError(t, w.RegisterPlatoon(&fakePlatoon{id: "p1"}))

	points := platoonGauge(t, reader)
	require.Len(t, points, 1)
	assert.Equal(t, int64(1), points[0].Value)

	w.Reset()
	assert.Empty(t, platoonGauge(t, reader), "callback no longer observes the world")
	w.Reset()
}

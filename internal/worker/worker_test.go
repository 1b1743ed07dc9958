package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/platoon/internal/dispatcher"
	"github.com/OCAP2/platoon/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type mockBackend struct {
	mu          sync.Mutex
	started     *core.Session
	ended       bool
	vehicles    []core.Vehicle
	platoons    []core.Platoon
	states      []core.VehicleState
	snapshots   []core.PlatoonSnapshot
	transitions []core.StatusTransition
	maneuvers   []core.ManeuverEvent
}

func (b *mockBackend) Init() error  { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = s
	return nil
}

func (b *mockBackend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	return nil
}

func (b *mockBackend) AddVehicle(v *core.Vehicle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vehicles = append(b.vehicles, *v)
	return nil
}

func (b *mockBackend) AddPlatoon(p *core.Platoon) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.platoons = append(b.platoons, *p)
	return nil
}

func (b *mockBackend) RecordVehicleState(s *core.VehicleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, *s)
	return nil
}

func (b *mockBackend) RecordPlatoonSnapshot(s *core.PlatoonSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, *s)
	return nil
}

func (b *mockBackend) RecordStatusTransition(t *core.StatusTransition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, *t)
	return nil
}

func (b *mockBackend) RecordManeuverEvent(e *core.ManeuverEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maneuvers = append(b.maneuvers, *e)
	return nil
}

func (b *mockBackend) LastWriteDuration() float64 { return 12.5 }

type recordedPoint struct {
	bucket string
	point  *influxdb2_write.Point
}

type mockMetrics struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (m *mockMetrics) WritePoint(bucket string, p *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, recordedPoint{bucket, p})
	return nil
}

func (m *mockMetrics) byMeasurement(name string) []recordedPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedPoint
	for _, p := range m.points {
		if p.point.Name() == name {
			out = append(out, p)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *mockBackend, *mockMetrics) {
	t.Helper()
	backend := &mockBackend{}
	metrics := &mockMetrics{}
	m := NewManager(Dependencies{Metrics: metrics}, backend)

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	m.RegisterHandlers(d)

	require.NoError(t, m.StartSession(&core.Session{Name: "test", FixedDelta: 0.05}))
	return m, backend, metrics
}

func endSession(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.EndSession(ctx))
}

func state(id string, tick uint64, x float64, platoon string, rank int) core.VehicleState {
	return core.VehicleState{
		VehicleID: id,
		Tick:      tick,
		Transform: core.Transform{Location: core.Location{X: x}},
		Length:    4,
		Speed:     10,
		Status:    "platooning",
		PlatoonID: platoon,
		Rank:      rank,
	}
}

func TestRecordBeforeRegisterHandlers(t *testing.T) {
	m := NewManager(Dependencies{}, &mockBackend{})
	assert.ErrorIs(t, m.RegisterVehicle(core.Vehicle{ID: "1"}), ErrNotStarted)
}

func TestRegisterVehicle_Deduplicates(t *testing.T) {
	m, backend, _ := newTestManager(t)

	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "1"}))
	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "1"}))
	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "2"}))
	endSession(t, m)

	assert.Len(t, backend.vehicles, 2)
	assert.True(t, backend.ended)
}

func TestRecordTick_StatesAndGaps(t *testing.T) {
	m, backend, metrics := newTestManager(t)
	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "lead"}))
	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "follow"}))
	require.NoError(t, m.RegisterPlatoon(core.Platoon{ID: "p1"}))

	states := []core.VehicleState{
		state("lead", 5, 20, "p1", 0),
		state("follow", 5, 10, "p1", 1),
	}
	snaps := []core.PlatoonSnapshot{{PlatoonID: "p1", Tick: 5, Members: []string{"lead", "follow"}}}
	m.RecordTick(5, states, snaps)
	endSession(t, m)

	assert.Len(t, backend.states, 2)
	assert.Len(t, backend.snapshots, 1)
	assert.Equal(t, 2, m.RecordedStates())

	points := metrics.byMeasurement("vehicle_state")
	require.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, "platoon_telemetry", p.bucket)
		var vid string
		var gap any
		for _, tag := range p.point.TagList() {
			if tag.Key == "vehicle" {
				vid = tag.Value
			}
		}
		for _, f := range p.point.FieldList() {
			if f.Key == "gap" {
				gap = f.Value
			}
		}
		if vid == "follow" {
			assert.InDelta(t, 6.0, gap, 1e-9)
		} else {
			assert.Nil(t, gap)
		}
	}
}

func TestRecordTick_SkipsStaleStates(t *testing.T) {
	m, backend, _ := newTestManager(t)
	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "1"}))

	m.RecordTick(7, []core.VehicleState{state("1", 6, 0, "", -1)}, nil)
	endSession(t, m)

	assert.Empty(t, backend.states)
}

func TestRecordTick_UnknownVehicleRejected(t *testing.T) {
	m, backend, _ := newTestManager(t)

	m.RecordTick(1, []core.VehicleState{state("ghost", 1, 0, "", -1)}, nil)
	endSession(t, m)

	assert.Empty(t, backend.states)
	assert.Equal(t, 1, m.rejected.Value())
}

func TestManeuverDuration(t *testing.T) {
	m, backend, metrics := newTestManager(t)

	m.RecordManeuverEvent(core.ManeuverEvent{ManeuverID: "m1", Kind: core.ManeuverAccepted, Tick: 10})
	m.RecordManeuverEvent(core.ManeuverEvent{ManeuverID: "m1", Kind: core.ManeuverCompleted, Tick: 50})
	m.RecordStatusTransition(core.StatusTransition{VehicleID: "1", From: "joining", To: "platooning", Tick: 50})
	endSession(t, m)

	assert.Len(t, backend.maneuvers, 2)
	assert.Len(t, backend.transitions, 1)
	assert.Zero(t, m.deps.ManeuverCache.Len())

	points := metrics.byMeasurement("maneuver")
	require.Len(t, points, 2)
	var ticks any
	for _, f := range points[1].point.FieldList() {
		if f.Key == "duration_ticks" {
			ticks = f.Value
		}
	}
	assert.EqualValues(t, 40, ticks)
}

func TestStartSession_ResetsCaches(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.RegisterVehicle(core.Vehicle{ID: "1"}))
	m.deps.ManeuverCache.Set("m1", 1)

	require.NoError(t, m.StartSession(&core.Session{Name: "second"}))

	v, p := m.deps.EntityCache.Counts()
	assert.Zero(t, v)
	assert.Zero(t, p)
	assert.Zero(t, m.deps.ManeuverCache.Len())
	assert.Equal(t, "second", m.deps.Session.GetSession().Name)
	endSession(t, m)
}

func TestLastWriteDuration(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.Equal(t, 12.5, m.LastWriteDuration())
	assert.Contains(t, m.QueueDepths(), CmdVehicleState)
	endSession(t, m)
}

package v1

import (
	"testing"
	"time"

	"github.com/OCAP2/platoon/internal/geo"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func state(id string, tick uint64, x float64) core.VehicleState {
	return core.VehicleState{
		VehicleID: id,
		Tick:      tick,
		Transform: core.Transform{Location: core.Location{X: x, Y: 139.51}, Rotation: core.Rotation{Yaw: 0}},
		Speed:     20,
		Status:    "MAINTAINING",
		PlatoonID: "p1",
		Rank:      0,
	}
}

func sessionData() *SessionData {
	dest := core.Location{X: 630, Y: 141.39}
	return &SessionData{
		Session: &core.Session{
			ID:         "abc",
			Name:       "frontal-joining",
			Scenario:   "frontal-joining",
			MapName:    "Town06",
			StartTime:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			FixedDelta: 0.05,
			OriginLat:  49.0,
			OriginLon:  8.4,
			Tag:        "test",
		},
		Vehicles: map[string]*VehicleRecord{
			"b": {Vehicle: core.Vehicle{ID: "b", Model: "m", Length: 4.9, IsManaged: true},
				States: []core.VehicleState{state("b", 1, 10), state("b", 2, 11), state("b", 3, 11)}},
			"a": {Vehicle: core.Vehicle{ID: "a", Model: "m", Length: 4.9, IsManaged: true, JoinTick: 1},
				States: []core.VehicleState{state("a", 1, 20)}},
		},
		Platoons: map[string]*PlatoonRecord{
			"p1": {Platoon: core.Platoon{ID: "p1", CreatedTick: 1, Destination: &dest},
				Snapshots: []core.PlatoonSnapshot{{PlatoonID: "p1", Tick: 4, Members: []string{"b", "a"}, Pending: "c"}}},
		},
		Transitions: []core.StatusTransition{
			{VehicleID: "a", Tick: 5, From: "SEARCHING", To: "MAINTAINING", Trigger: "merged"},
		},
		Maneuvers: []core.ManeuverEvent{
			{ManeuverID: "m-1", Kind: core.ManeuverRequested, Tick: 2, PlatoonID: "p1", CandidateID: "a", Insert: core.InsertFront},
			{ManeuverID: "m-1", Kind: core.ManeuverAccepted, Tick: 2, PlatoonID: "p1", CandidateID: "a", Insert: core.InsertFront},
		},
	}
}

func TestBuild_Header(t *testing.T) {
	export := Build(sessionData(), nil)

	assert.Equal(t, "abc", export.SessionID)
	assert.Equal(t, "frontal-joining", export.SessionName)
	assert.Equal(t, "Town06", export.MapName)
	assert.Equal(t, "test", export.Tags)
	assert.Equal(t, 0.05, export.FixedDelta)
	assert.Equal(t, uint64(5), export.EndTick)
	assert.Nil(t, export.Origin)
}

func TestBuild_VehiclesSortedWithPositions(t *testing.T) {
	export := Build(sessionData(), nil)

	require.Len(t, export.Vehicles, 2)
	assert.Equal(t, "a", export.Vehicles[0].ID)
	assert.Equal(t, "b", export.Vehicles[1].ID)

	b := export.Vehicles[1]
	require.Len(t, b.Positions, 3)
	assert.Equal(t, []any{uint64(1), []float64{10, 139.51, 0}, 0.0, 20.0, "MAINTAINING", "p1", 0}, b.Positions[0])
	assert.Equal(t, "LINESTRING(10 139.51,11 139.51)", b.Track)

	// single sample has no track
	assert.Empty(t, export.Vehicles[0].Track)
}

func TestBuild_PlatoonSnapshots(t *testing.T) {
	export := Build(sessionData(), nil)

	require.Len(t, export.Platoons, 1)
	p := export.Platoons[0]
	assert.Equal(t, []float64{630, 141.39, 0}, p.Destination)
	require.Len(t, p.Snapshots, 1)
	assert.Equal(t, []any{uint64(4), []string{"b", "a"}, "c"}, p.Snapshots[0])
}

func TestBuild_EventsInTickOrder(t *testing.T) {
	export := Build(sessionData(), nil)

	require.Len(t, export.Events, 3)
	assert.Equal(t, "maneuver", export.Events[0][1])
	assert.Equal(t, "requested", export.Events[0][2])
	assert.Equal(t, "accepted", export.Events[1][2])
	assert.Equal(t, []any{uint64(5), "status", "a", "SEARCHING", "MAINTAINING", "merged", ""}, export.Events[2])
}

func TestBuild_ProjectedTrack(t *testing.T) {
	p, err := geo.NewProjector(49.0, 8.4)
	require.NoError(t, err)

	export := Build(sessionData(), p)

	require.NotNil(t, export.Origin)
	assert.Equal(t, 49.0, export.Origin.Lat)
	track := export.Vehicles[1].TrackLonLat
	require.Len(t, track, 2)
	assert.Greater(t, track[1][0], track[0][0], "moving +x is moving east")
	assert.InDelta(t, 8.4, track[0][0], 0.01)
	assert.InDelta(t, 49.0, track[0][1], 0.01)
}

func TestBuild_Empty(t *testing.T) {
	export := Build(&SessionData{Session: &core.Session{Name: "empty"}}, nil)

	assert.NotNil(t, export.Vehicles)
	assert.NotNil(t, export.Platoons)
	assert.NotNil(t, export.Events)
	assert.Zero(t, export.EndTick)
}

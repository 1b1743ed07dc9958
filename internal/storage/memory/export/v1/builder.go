package v1

import (
	"slices"
	"sort"

	"github.com/OCAP2/platoon/internal/geo"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/samber/lo"
)

// SessionData contains all the data needed to build an export
type SessionData struct {
	Session     *core.Session
	Vehicles    map[string]*VehicleRecord
	Platoons    map[string]*PlatoonRecord
	Transitions []core.StatusTransition
	Maneuvers   []core.ManeuverEvent
}

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord struct {
	Vehicle core.Vehicle
	States  []core.VehicleState
}

// PlatoonRecord groups a platoon with its composition snapshots
type PlatoonRecord struct {
	Platoon   core.Platoon
	Snapshots []core.PlatoonSnapshot
}

// Build creates an Export from the session data. A nil projector skips the
// WGS84 tracks.
func Build(data *SessionData, projector *geo.Projector) Export {
	s := data.Session
	export := Export{
		Version:     s.Version,
		BuildDate:   s.BuildDate,
		SessionID:   s.ID,
		SessionName: s.Name,
		Scenario:    s.Scenario,
		MapName:     s.MapName,
		Tags:        s.Tag,
		StartTime:   s.StartTime,
		FixedDelta:  s.FixedDelta,
		Vehicles:    make([]Vehicle, 0, len(data.Vehicles)),
		Platoons:    make([]Platoon, 0, len(data.Platoons)),
		Events:      make([][]any, 0, len(data.Transitions)+len(data.Maneuvers)),
	}
	if projector != nil {
		export.Origin = &Origin{Lat: s.OriginLat, Lon: s.OriginLon}
	}

	var maxTick uint64

	// Sorted by ID so exports of the same run are byte-identical
	vehicleIDs := lo.Keys(data.Vehicles)
	slices.Sort(vehicleIDs)
	for _, id := range vehicleIDs {
		record := data.Vehicles[id]
		v := Vehicle{
			ID:        record.Vehicle.ID,
			Model:     record.Vehicle.Model,
			Color:     record.Vehicle.Color,
			RoleName:  record.Vehicle.RoleName,
			Length:    record.Vehicle.Length,
			IsManaged: record.Vehicle.IsManaged,
			JoinTick:  record.Vehicle.JoinTick,
			Positions: make([][]any, 0, len(record.States)),
		}

		for _, state := range record.States {
			loc := state.Transform.Location
			v.Positions = append(v.Positions, []any{
				state.Tick,
				[]float64{loc.X, loc.Y, loc.Z},
				state.Transform.Rotation.Yaw,
				state.Speed,
				state.Status,
				state.PlatoonID,
				state.Rank,
			})
			maxTick = max(maxTick, state.Tick)
		}

		if track, err := geo.Trajectory(record.States); err == nil {
			v.Track = track.AsText()
			if projector != nil {
				v.TrackLonLat = projectTrack(projector, record.States)
			}
		}

		export.Vehicles = append(export.Vehicles, v)
	}

	platoonIDs := lo.Keys(data.Platoons)
	slices.Sort(platoonIDs)
	for _, id := range platoonIDs {
		record := data.Platoons[id]
		p := Platoon{
			ID:          record.Platoon.ID,
			CreatedTick: record.Platoon.CreatedTick,
			Snapshots:   make([][]any, 0, len(record.Snapshots)),
		}
		if d := record.Platoon.Destination; d != nil {
			p.Destination = []float64{d.X, d.Y, d.Z}
		}
		for _, snap := range record.Snapshots {
			members := snap.Members
			if members == nil {
				members = []string{}
			}
			p.Snapshots = append(p.Snapshots, []any{snap.Tick, members, snap.Pending})
			maxTick = max(maxTick, snap.Tick)
		}
		export.Platoons = append(export.Platoons, p)
	}

	type tickedEvent struct {
		tick uint64
		row  []any
	}
	events := make([]tickedEvent, 0, cap(export.Events))
	for _, t := range data.Transitions {
		events = append(events, tickedEvent{t.Tick, []any{
			t.Tick, "status", t.VehicleID, t.From, t.To, t.Trigger, t.PlatoonID,
		}})
	}
	for _, e := range data.Maneuvers {
		events = append(events, tickedEvent{e.Tick, []any{
			e.Tick, "maneuver", string(e.Kind), e.ManeuverID, e.PlatoonID, e.CandidateID, string(e.Insert), e.Reason,
		}})
	}
	// stable keeps recording order within a tick
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })
	for _, e := range events {
		export.Events = append(export.Events, e.row)
		maxTick = max(maxTick, e.tick)
	}

	export.EndTick = maxTick
	return export
}

func projectTrack(p *geo.Projector, states []core.VehicleState) [][2]float64 {
	out := make([][2]float64, 0, len(states))
	var last core.Location
	for i, s := range states {
		loc := s.Transform.Location
		if i > 0 && loc.X == last.X && loc.Y == last.Y {
			continue
		}
		lon, lat := p.LonLat(loc)
		out = append(out, [2]float64{lon, lat})
		last = loc
	}
	return out
}

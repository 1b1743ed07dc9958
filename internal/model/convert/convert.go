// Package convert maps core recording types to their GORM models
package convert

import (
	"encoding/json"

	"github.com/OCAP2/platoon/internal/geo"
	"github.com/OCAP2/platoon/internal/model"
	"github.com/OCAP2/platoon/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// CoreToSession converts a core.Session. The origin is stored as a WGS84
// lon/lat point.
func CoreToSession(s core.Session) model.Session {
	return model.Session{
		UUID:       s.ID,
		Name:       s.Name,
		Scenario:   s.Scenario,
		MapName:    s.MapName,
		StartTime:  s.StartTime,
		FixedDelta: s.FixedDelta,
		Origin:     geom.NewPoint(geom.Coordinates{XY: geom.XY{X: s.OriginLon, Y: s.OriginLat}, Type: geom.DimXY}),
		Version:    s.Version,
		BuildDate:  s.BuildDate,
		Tag:        s.Tag,
	}
}

// CoreToVehicle converts a core.Vehicle. SessionID is stamped by the writer.
func CoreToVehicle(v core.Vehicle) model.Vehicle {
	return model.Vehicle{
		ActorID:   v.ID,
		JoinTime:  v.JoinTime,
		JoinTick:  v.JoinTick,
		Blueprint: v.Model,
		Color:     v.Color,
		RoleName:  v.RoleName,
		Length:    v.Length,
		IsManaged: v.IsManaged,
	}
}

// CoreToVehicleState converts a core.VehicleState.
func CoreToVehicleState(s core.VehicleState) model.VehicleState {
	return model.VehicleState{
		ActorID:   s.VehicleID,
		Time:      s.Time,
		Tick:      s.Tick,
		Position:  geo.Point(s.Transform.Location),
		Yaw:       s.Transform.Rotation.Yaw,
		Speed:     s.Speed,
		Status:    s.Status,
		PlatoonID: s.PlatoonID,
		Rank:      s.Rank,
		Throttle:  s.Control.Throttle,
		Steer:     s.Control.Steer,
		Brake:     s.Control.Brake,
	}
}

// CoreToPlatoon converts a core.Platoon.
func CoreToPlatoon(p core.Platoon) model.Platoon {
	out := model.Platoon{
		PlatoonID:   p.ID,
		CreatedTime: p.CreatedTime,
		CreatedTick: p.CreatedTick,
	}
	if p.Destination != nil {
		out.HasDestination = true
		out.Destination = geo.Point(*p.Destination)
	}
	return out
}

// CoreToPlatoonSnapshot converts a core.PlatoonSnapshot. Members keep their
// rank order in the JSON array.
func CoreToPlatoonSnapshot(s core.PlatoonSnapshot) model.PlatoonSnapshot {
	members := s.Members
	if members == nil {
		members = []string{}
	}
	raw, _ := json.Marshal(members) // []string always marshals
	return model.PlatoonSnapshot{
		PlatoonID: s.PlatoonID,
		Time:      s.Time,
		Tick:      s.Tick,
		Members:   datatypes.JSON(raw),
		Size:      len(members),
		Pending:   s.Pending,
	}
}

// CoreToStatusTransition converts a core.StatusTransition.
func CoreToStatusTransition(t core.StatusTransition) model.StatusTransition {
	return model.StatusTransition{
		ActorID:    t.VehicleID,
		Time:       t.Time,
		Tick:       t.Tick,
		FromStatus: t.From,
		ToStatus:   t.To,
		Trigger:    t.Trigger,
		PlatoonID:  t.PlatoonID,
	}
}

// CoreToManeuverEvent converts a core.ManeuverEvent.
func CoreToManeuverEvent(e core.ManeuverEvent) model.ManeuverEvent {
	return model.ManeuverEvent{
		ManeuverID:     e.ManeuverID,
		Kind:           string(e.Kind),
		Time:           e.Time,
		Tick:           e.Tick,
		PlatoonID:      e.PlatoonID,
		CandidateID:    e.CandidateID,
		InsertPosition: string(e.Insert),
		Reason:         e.Reason,
	}
}

// SnapshotMembers decodes the rank-ordered member list of a stored snapshot.
func SnapshotMembers(s model.PlatoonSnapshot) ([]string, error) {
	var members []string
	if len(s.Members) == 0 {
		return members, nil
	}
	err := json.Unmarshal(s.Members, &members)
	return members, err
}

// VehicleStateLocation returns the simulator location stored in a state row.
func VehicleStateLocation(s model.VehicleState) core.Location {
	c, ok := s.Position.Coordinates()
	if !ok {
		return core.Location{}
	}
	return core.Location{X: c.XY.X, Y: c.XY.Y, Z: c.Z}
}

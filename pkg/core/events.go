// pkg/core/events.go
package core

import "time"

// StatusTransition records one FSM transition of a vehicle.
type StatusTransition struct {
	VehicleID string
	Tick      uint64
	Time      time.Time
	From      string
	To        string
	Trigger   string
	PlatoonID string
}

// ManeuverEventKind classifies join protocol events.
type ManeuverEventKind string

const (
	ManeuverRequested ManeuverEventKind = "requested"
	ManeuverRejected  ManeuverEventKind = "rejected"
	ManeuverAccepted  ManeuverEventKind = "accepted"
	ManeuverAligned   ManeuverEventKind = "aligned"
	ManeuverCompleted ManeuverEventKind = "completed"
	ManeuverAborted   ManeuverEventKind = "aborted"
	ManeuverLeft      ManeuverEventKind = "left"
)

// ManeuverEvent records a step of the join or leave protocol.
type ManeuverEvent struct {
	ManeuverID  string
	Kind        ManeuverEventKind
	Tick        uint64
	Time        time.Time
	PlatoonID   string
	CandidateID string
	Insert      InsertPosition
	Reason      string
}

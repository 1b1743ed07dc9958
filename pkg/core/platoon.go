// pkg/core/platoon.go
package core

import (
	"fmt"
	"time"
)

// InsertPosition is where a joining vehicle enters a platoon.
type InsertPosition string

const (
	InsertFront InsertPosition = "front"
	InsertBack  InsertPosition = "back"
	InsertCutIn InsertPosition = "cut-in"
)

// Valid reports whether p is a known insert position.
func (p InsertPosition) Valid() bool {
	switch p {
	case InsertFront, InsertBack, InsertCutIn:
		return true
	}
	return false
}

// ManeuverPhase is the phase of an in-progress join.
type ManeuverPhase string

const (
	PhaseApproaching ManeuverPhase = "approaching"
	PhaseJoining     ManeuverPhase = "joining"
)

// Maneuver is the context attached to a free vehicle while it joins a platoon.
// It exists from acceptance of the join request until merge or abort.
type Maneuver struct {
	ID           string
	PlatoonID    string
	CandidateID  string
	Insert       InsertPosition
	SlotIndex    int // rank the candidate takes on merge
	Phase        ManeuverPhase
	StartTick    uint64
	DeadlineTick uint64
	DwellTicks   int
}

// Expired reports whether the maneuver has passed its deadline at tick now.
func (m Maneuver) Expired(now uint64) bool {
	return now > m.DeadlineTick
}

func (m Maneuver) String() string {
	return fmt.Sprintf("%s %s@%d (%s)", m.CandidateID, m.Insert, m.SlotIndex, m.Phase)
}

// Slot is the target pose a joining vehicle converges on.
type Slot struct {
	Transform Transform
	Speed     float64
	Ahead     *VehicleState // vehicle that ends up ahead of the candidate, nil for front joins
	Behind    *VehicleState // vehicle that ends up behind the candidate, nil for back joins
}

// Platoon is a platoon registered for recording.
type Platoon struct {
	ID          string
	CreatedTime time.Time
	CreatedTick uint64
	Destination *Location
}

// PlatoonSnapshot records the composition of a platoon at one tick.
// Members are ordered by rank, index 0 is the leader.
type PlatoonSnapshot struct {
	PlatoonID string
	Tick      uint64
	Time      time.Time
	Members   []string
	Pending   string // candidate of an in-progress join, empty when none
}

package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every table migrated by database.Manager.Setup.
var DatabaseModels = []interface{}{
	&Session{},
	&Vehicle{},
	&VehicleState{},
	&Platoon{},
	&PlatoonSnapshot{},
	&StatusTransition{},
	&ManeuverEvent{},
	&RunPerformance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// RunPerformance is one status-monitor sample of the recorder itself
type RunPerformance struct {
	ID                  uint              `json:"id" gorm:"primarykey;autoIncrement;"`
	Time                time.Time         `json:"time" gorm:"index:idx_runperformance_time"`
	SessionID           uint              `json:"sessionId" gorm:"index:idx_runperformance_session_id"`
	Tick                uint64            `json:"tick"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	DispatcherQueues    datatypes.JSON    `json:"dispatcherQueues"`
	LastWriteDurationMs float64           `json:"lastWriteDurationMs"`
}

func (*RunPerformance) TableName() string {
	return "run_performances"
}

// WriteQueueLengths is the number of rows waiting in each write queue
type WriteQueueLengths struct {
	Vehicles          int `json:"vehicles"`
	VehicleStates     int `json:"vehicleStates"`
	Platoons          int `json:"platoons"`
	PlatoonSnapshots  int `json:"platoonSnapshots"`
	StatusTransitions int `json:"statusTransitions"`
	ManeuverEvents    int `json:"maneuverEvents"`
}

// Total returns the sum of all queue lengths.
func (w WriteQueueLengths) Total() int {
	return w.Vehicles + w.VehicleStates + w.Platoons + w.PlatoonSnapshots +
		w.StatusTransitions + w.ManeuverEvents
}

////////////////////////
// RECORDING MODELS
////////////////////////

// Session is one recorded simulation run
type Session struct {
	gorm.Model
	UUID       string     `json:"uuid" gorm:"size:36;uniqueIndex"`
	Name       string     `json:"name" gorm:"size:200"`
	Scenario   string     `json:"scenario" gorm:"size:64"`
	MapName    string     `json:"mapName" gorm:"size:127"`
	StartTime  time.Time  `json:"startTime"`
	FixedDelta float64    `json:"fixedDelta"`
	Origin     geom.Point `json:"origin" gorm:"type:geometry"` // WGS84 lon/lat of the simulator origin
	Version    string     `json:"version" gorm:"size:64"`
	BuildDate  string     `json:"buildDate" gorm:"size:64"`
	Tag        string     `json:"tag" gorm:"size:127"`
}

func (*Session) TableName() string {
	return "sessions"
}

// Vehicle is a vehicle spawned during a session
type Vehicle struct {
	gorm.Model
	SessionID uint      `json:"sessionId" gorm:"index:idx_vehicle_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ActorID   string    `json:"actorId" gorm:"size:64;index:idx_vehicle_actor_id"`
	JoinTime  time.Time `json:"joinTime"`
	JoinTick  uint64    `json:"joinTick"`
	Blueprint string    `json:"blueprint" gorm:"size:127"`
	Color     string    `json:"color" gorm:"size:32"`
	RoleName  string    `json:"roleName" gorm:"size:64"`
	Length    float64   `json:"length"`
	IsManaged bool      `json:"isManaged"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// VehicleState is one published snapshot of a vehicle
type VehicleState struct {
	ID        uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID uint       `json:"sessionId" gorm:"index:idx_vehiclestate_session_id"`
	ActorID   string     `json:"actorId" gorm:"size:64;index:idx_vehiclestate_actor_id"`
	Time      time.Time  `json:"time"`
	Tick      uint64     `json:"tick" gorm:"index:idx_vehiclestate_tick"`
	Position  geom.Point `json:"position" gorm:"type:geometry"` // simulator metres
	Yaw       float64    `json:"yaw"`
	Speed     float64    `json:"speed"`
	Status    string     `json:"status" gorm:"size:32"`
	PlatoonID string     `json:"platoonId" gorm:"size:64"`
	Rank      int        `json:"rank"`
	Throttle  float64    `json:"throttle"`
	Steer     float64    `json:"steer"`
	Brake     float64    `json:"brake"`
}

func (*VehicleState) TableName() string {
	return "vehicle_states"
}

// Platoon is a platoon formed during a session
type Platoon struct {
	gorm.Model
	SessionID      uint       `json:"sessionId" gorm:"index:idx_platoon_session_id"`
	Session        Session    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	PlatoonID      string     `json:"platoonId" gorm:"size:64;index:idx_platoon_platoon_id"`
	CreatedTime    time.Time  `json:"createdTime"`
	CreatedTick    uint64     `json:"createdTick"`
	HasDestination bool       `json:"hasDestination"`
	Destination    geom.Point `json:"destination" gorm:"type:geometry"`
}

func (*Platoon) TableName() string {
	return "platoons"
}

// PlatoonSnapshot is the composition of a platoon at one tick
type PlatoonSnapshot struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID uint           `json:"sessionId" gorm:"index:idx_platoonsnapshot_session_id"`
	PlatoonID string         `json:"platoonId" gorm:"size:64;index:idx_platoonsnapshot_platoon_id"`
	Time      time.Time      `json:"time"`
	Tick      uint64         `json:"tick"`
	Members   datatypes.JSON `json:"members"` // actor IDs ordered by rank
	Size      int            `json:"size"`
	Pending   string         `json:"pending" gorm:"size:64"`
}

func (*PlatoonSnapshot) TableName() string {
	return "platoon_snapshots"
}

// StatusTransition is one FSM transition of a managed vehicle
type StatusTransition struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID  uint      `json:"sessionId" gorm:"index:idx_statustransition_session_id"`
	ActorID    string    `json:"actorId" gorm:"size:64;index:idx_statustransition_actor_id"`
	Time       time.Time `json:"time"`
	Tick       uint64    `json:"tick"`
	FromStatus string    `json:"from" gorm:"size:32"`
	ToStatus   string    `json:"to" gorm:"size:32"`
	Trigger    string    `json:"trigger" gorm:"size:32"`
	PlatoonID  string    `json:"platoonId" gorm:"size:64"`
}

func (*StatusTransition) TableName() string {
	return "status_transitions"
}

// ManeuverEvent is one step of the join or leave protocol
type ManeuverEvent struct {
	ID             uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID      uint      `json:"sessionId" gorm:"index:idx_maneuverevent_session_id"`
	ManeuverID     string    `json:"maneuverId" gorm:"size:36;index:idx_maneuverevent_maneuver_id"`
	Kind           string    `json:"kind" gorm:"size:16"`
	Time           time.Time `json:"time"`
	Tick           uint64    `json:"tick"`
	PlatoonID      string    `json:"platoonId" gorm:"size:64"`
	CandidateID    string    `json:"candidateId" gorm:"size:64"`
	InsertPosition string    `json:"insertPosition" gorm:"size:16"`
	Reason         string    `json:"reason" gorm:"size:127"`
}

func (*ManeuverEvent) TableName() string {
	return "maneuver_events"
}

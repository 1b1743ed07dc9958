// Package v1 contains the v1 export format for recorded platoon sessions.
// Time series are positional arrays to keep long runs compact.
package v1

import "time"

// Export is the root JSON structure for v1 format
type Export struct {
	Version     string    `json:"version"`
	BuildDate   string    `json:"buildDate"`
	SessionID   string    `json:"sessionId"`
	SessionName string    `json:"sessionName"`
	Scenario    string    `json:"scenario"`
	MapName     string    `json:"mapName"`
	Tags        string    `json:"tags"`
	StartTime   time.Time `json:"startTime"`
	FixedDelta  float64   `json:"fixedDelta"`
	EndTick     uint64    `json:"endTick"`
	Origin      *Origin   `json:"origin,omitempty"`
	Vehicles    []Vehicle `json:"vehicles"`
	Platoons    []Platoon `json:"platoons"`
	// Events holds status transitions and maneuver events in tick order:
	//   [tick, "status", vehicleId, from, to, trigger, platoonId]
	//   [tick, "maneuver", kind, maneuverId, platoonId, candidateId, insert, reason]
	Events [][]any `json:"events"`
}

// Origin is the WGS84 anchor of the simulator frame.
type Origin struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Vehicle is one recorded vehicle with its states.
type Vehicle struct {
	ID        string  `json:"id"`
	Model     string  `json:"model"`
	Color     string  `json:"color,omitempty"`
	RoleName  string  `json:"roleName,omitempty"`
	Length    float64 `json:"length"`
	IsManaged bool    `json:"isManaged"`
	JoinTick  uint64  `json:"joinTick"`
	// Positions: [tick, [x, y, z], yaw, speed, status, platoonId, rank]
	Positions [][]any `json:"positions"`
	// Track is the WKT line string of the driven path in simulator metres.
	Track string `json:"track,omitempty"`
	// TrackLonLat is the same path projected to WGS84 when an origin is set.
	TrackLonLat [][2]float64 `json:"trackLonLat,omitempty"`
}

// Platoon is one recorded platoon with its composition over time.
type Platoon struct {
	ID          string     `json:"id"`
	CreatedTick uint64     `json:"createdTick"`
	Destination []float64  `json:"destination,omitempty"`
	// Snapshots: [tick, [memberIds...], pendingId]
	Snapshots [][]any `json:"snapshots"`
}

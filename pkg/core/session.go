// pkg/core/session.go
package core

import "time"

// Session represents one simulation run being recorded.
type Session struct {
	ID         string
	Name       string
	Scenario   string
	MapName    string
	StartTime  time.Time
	FixedDelta float64 // seconds per tick
	OriginLat  float64 // geo reference of the simulator origin
	OriginLon  float64
	Version    string
	BuildDate  string
	Tag        string
}

// SessionResult summarises a finished session for upload.
type SessionResult struct {
	SessionName string
	Scenario    string
	MapName     string
	Duration    float64 // seconds of simulated time
	Ticks       uint64
	Vehicles    int
	Platoons    int
	Tag         string
}

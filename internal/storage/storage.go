package storage

import "github.com/OCAP2/platoon/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Entity registration
	AddVehicle(v *core.Vehicle) error
	AddPlatoon(p *core.Platoon) error

	// State recording
	RecordVehicleState(s *core.VehicleState) error
	RecordPlatoonSnapshot(s *core.PlatoonSnapshot) error

	// Event recording
	RecordStatusTransition(t *core.StatusTransition) error
	RecordManeuverEvent(e *core.ManeuverEvent) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the results server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.SessionResult
}

// WriteDurationProvider is an optional interface for backends that write in
// batches and can report how long the last batch took.
type WriteDurationProvider interface {
	LastWriteDuration() (ms float64)
}

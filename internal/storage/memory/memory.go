// Package memory implements storage.Backend by keeping the whole session in
// memory and exporting it as one JSON document when the session ends.
package memory

import (
	"sync"

	"github.com/OCAP2/platoon/internal/config"
	"github.com/OCAP2/platoon/internal/geo"
	v1 "github.com/OCAP2/platoon/internal/storage/memory/export/v1"
	"github.com/OCAP2/platoon/pkg/core"
)

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg       config.MemoryConfig
	projector *geo.Projector
	session   *core.Session

	vehicles map[string]*v1.VehicleRecord // keyed by vehicle ID
	platoons map[string]*v1.PlatoonRecord // keyed by platoon ID

	transitions []core.StatusTransition
	maneuvers   []core.ManeuverEvent

	lastExportPath     string
	lastExportMetadata core.SessionResult
	mu                 sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[string]*v1.VehicleRecord),
		platoons: make(map[string]*v1.PlatoonRecord),
	}
}

// SetProjector enables WGS84 tracks in the export.
func (b *Backend) SetProjector(p *geo.Projector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projector = p
}

func (b *Backend) Init() error {
	return nil
}

func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session and drops anything recorded before.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.vehicles = make(map[string]*v1.VehicleRecord)
	b.platoons = make(map[string]*v1.PlatoonRecord)
	b.transitions = nil
	b.maneuvers = nil
	b.lastExportPath = ""
	b.lastExportMetadata = core.SessionResult{}
	return nil
}

// EndSession exports the session to disk.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	return b.exportJSON()
}

// AddVehicle registers a vehicle. Registering the same ID again keeps its states.
func (b *Backend) AddVehicle(v *core.Vehicle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.vehicles[v.ID]; ok {
		record.Vehicle = *v
		return nil
	}
	b.vehicles[v.ID] = &v1.VehicleRecord{
		Vehicle: *v,
		States:  make([]core.VehicleState, 0),
	}
	return nil
}

// AddPlatoon registers a platoon.
func (b *Backend) AddPlatoon(p *core.Platoon) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.platoons[p.ID]; ok {
		record.Platoon = *p
		return nil
	}
	b.platoons[p.ID] = &v1.PlatoonRecord{
		Platoon:   *p,
		Snapshots: make([]core.PlatoonSnapshot, 0),
	}
	return nil
}

// GetVehicle looks up a registered vehicle.
func (b *Backend) GetVehicle(id string) (*core.Vehicle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if record, ok := b.vehicles[id]; ok {
		v := record.Vehicle
		return &v, true
	}
	return nil, false
}

// RecordVehicleState appends a state. States of unknown vehicles are dropped.
func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.vehicles[s.VehicleID]; ok {
		record.States = append(record.States, *s)
	}
	return nil
}

// RecordPlatoonSnapshot appends a composition snapshot. Members are copied.
func (b *Backend) RecordPlatoonSnapshot(s *core.PlatoonSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.platoons[s.PlatoonID]
	if !ok {
		return nil
	}
	snap := *s
	snap.Members = append([]string(nil), s.Members...)
	record.Snapshots = append(record.Snapshots, snap)
	return nil
}

func (b *Backend) RecordStatusTransition(t *core.StatusTransition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, *t)
	return nil
}

func (b *Backend) RecordManeuverEvent(e *core.ManeuverEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maneuvers = append(b.maneuvers, *e)
	return nil
}

// GetExportedFilePath returns the path of the last export, empty before EndSession.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata returns the summary of the last export.
func (b *Backend) GetExportMetadata() core.SessionResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportMetadata
}

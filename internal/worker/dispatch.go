package worker

import (
	"fmt"

	"github.com/OCAP2/platoon/internal/dispatcher"
	"github.com/OCAP2/platoon/internal/influx"
	"github.com/OCAP2/platoon/pkg/core"
)

// Recording commands.
const (
	CmdNewVehicle       = ":NEW:VEHICLE:"
	CmdNewPlatoon       = ":NEW:PLATOON:"
	CmdVehicleState     = ":NEW:VEHICLE:STATE:"
	CmdPlatoonSnapshot  = ":NEW:PLATOON:SNAPSHOT:"
	CmdStatusTransition = ":STATUS:TRANSITION:"
	CmdManeuverEvent    = ":MANEUVER:"
)

// Sample is one recorded vehicle state. Gap is the bumper gap to the
// predecessor in the platoon, -1 for leaders and free vehicles.
type Sample struct {
	State core.VehicleState
	Gap   float64
}

// RegisterHandlers registers all recording handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Registration is sync so the cache is filled before states arrive
	d.Register(CmdNewVehicle, m.handleNewVehicle, dispatcher.Logged())
	d.Register(CmdNewPlatoon, m.handleNewPlatoon, dispatcher.Logged())

	// High-volume state updates may drop under backpressure
	d.Register(CmdVehicleState, m.handleVehicleState, dispatcher.Buffered(10000))

	// Protocol events are never dropped
	d.Register(CmdPlatoonSnapshot, m.handlePlatoonSnapshot, dispatcher.Buffered(2000), dispatcher.Blocking())
	d.Register(CmdStatusTransition, m.handleStatusTransition, dispatcher.Buffered(1000), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(CmdManeuverEvent, m.handleManeuverEvent, dispatcher.Buffered(1000), dispatcher.Blocking(), dispatcher.Logged())

	m.dispatcher = d
}

// RegisterVehicle records a spawned vehicle.
func (m *Manager) RegisterVehicle(v core.Vehicle) error {
	return m.dispatch(CmdNewVehicle, v.JoinTick, v)
}

// RegisterPlatoon records a created platoon.
func (m *Manager) RegisterPlatoon(p core.Platoon) error {
	return m.dispatch(CmdNewPlatoon, p.CreatedTick, p)
}

// RecordTick records every state published in tick and the platoon
// compositions. Gaps are computed here, while states of one tick are together.
func (m *Manager) RecordTick(tick uint64, states []core.VehicleState, snapshots []core.PlatoonSnapshot) {
	m.deps.Session.SetTick(tick)

	byID := make(map[string]core.VehicleState, len(states))
	for _, s := range states {
		byID[s.VehicleID] = s
	}
	pred := make(map[string]string)
	for _, snap := range snapshots {
		for i := 1; i < len(snap.Members); i++ {
			pred[snap.Members[i]] = snap.Members[i-1]
		}
	}

	for _, s := range states {
		if s.Tick != tick {
			continue
		}
		gap := -1.0
		if p, ok := byID[pred[s.VehicleID]]; ok && s.PlatoonID != "" {
			gap = s.BumperGap(p)
		}
		if err := m.dispatch(CmdVehicleState, tick, Sample{State: s, Gap: gap}); err != nil {
			m.logger.Debug("vehicle state not recorded", "vehicle", s.VehicleID, "tick", tick, "error", err)
		}
	}
	for _, snap := range snapshots {
		if err := m.dispatch(CmdPlatoonSnapshot, tick, snap); err != nil {
			m.logger.Error("platoon snapshot not recorded", "platoon", snap.PlatoonID, "tick", tick, "error", err)
		}
	}
}

// RecordStatusTransition implements world.Recorder.
func (m *Manager) RecordStatusTransition(t core.StatusTransition) {
	if err := m.dispatch(CmdStatusTransition, t.Tick, t); err != nil {
		m.logger.Error("status transition not recorded", "vehicle", t.VehicleID, "error", err)
	}
}

// RecordManeuverEvent implements world.Recorder.
func (m *Manager) RecordManeuverEvent(e core.ManeuverEvent) {
	if err := m.dispatch(CmdManeuverEvent, e.Tick, e); err != nil {
		m.logger.Error("maneuver event not recorded", "maneuver", e.ManeuverID, "error", err)
	}
}

func (m *Manager) handleNewVehicle(e dispatcher.Event) (any, error) {
	v, ok := e.Payload.(core.Vehicle)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	if !m.deps.EntityCache.AddVehicle(v) {
		return nil, nil
	}
	if err := m.backend.AddVehicle(&v); err != nil {
		return nil, fmt.Errorf("failed to log new vehicle: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleNewPlatoon(e dispatcher.Event) (any, error) {
	p, ok := e.Payload.(core.Platoon)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	if !m.deps.EntityCache.AddPlatoon(p) {
		return nil, nil
	}
	if err := m.backend.AddPlatoon(&p); err != nil {
		return nil, fmt.Errorf("failed to log new platoon: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleVehicleState(e dispatcher.Event) (any, error) {
	sample, ok := e.Payload.(Sample)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	if _, ok := m.deps.EntityCache.GetVehicle(sample.State.VehicleID); !ok {
		m.rejected.Inc()
		return nil, ErrTooEarlyForStateAssociation
	}
	if err := m.backend.RecordVehicleState(&sample.State); err != nil {
		return nil, fmt.Errorf("failed to log vehicle state: %w", err)
	}
	m.recorded.Inc()
	m.writePoint(influx.BucketTelemetry, influx.VehiclePoint(m.sessionName(), sample.State, sample.Gap))
	return nil, nil
}

func (m *Manager) handlePlatoonSnapshot(e dispatcher.Event) (any, error) {
	snap, ok := e.Payload.(core.PlatoonSnapshot)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	if _, ok := m.deps.EntityCache.GetPlatoon(snap.PlatoonID); !ok {
		return nil, ErrTooEarlyForStateAssociation
	}
	if err := m.backend.RecordPlatoonSnapshot(&snap); err != nil {
		return nil, fmt.Errorf("failed to log platoon snapshot: %w", err)
	}
	m.writePoint(influx.BucketTelemetry, influx.PlatoonPoint(m.sessionName(), snap))
	return nil, nil
}

func (m *Manager) handleStatusTransition(e dispatcher.Event) (any, error) {
	t, ok := e.Payload.(core.StatusTransition)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	if err := m.backend.RecordStatusTransition(&t); err != nil {
		return nil, fmt.Errorf("failed to log status transition: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleManeuverEvent(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.ManeuverEvent)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
	}
	if err := m.backend.RecordManeuverEvent(&ev); err != nil {
		return nil, fmt.Errorf("failed to log maneuver event: %w", err)
	}

	var duration *uint64
	switch ev.Kind {
	case core.ManeuverAccepted:
		m.deps.ManeuverCache.Set(ev.ManeuverID, ev.Tick)
	case core.ManeuverCompleted, core.ManeuverAborted:
		if d, ok := m.deps.ManeuverCache.Finish(ev.ManeuverID, ev.Tick); ok {
			duration = &d
		}
	}
	m.writePoint(influx.BucketManeuvers,
		influx.ManeuverPoint(m.sessionName(), ev, duration, m.deps.Session.GetSession().FixedDelta))
	return nil, nil
}

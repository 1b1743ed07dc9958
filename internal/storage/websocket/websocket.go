// Package websocket streams a recording session to a live viewer over a
// websocket. It implements storage.Backend but not storage.Uploadable.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/OCAP2/platoon/pkg/core"
	"github.com/OCAP2/platoon/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams session data over WebSocket.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped returns how many frames were dropped because the send queue was full.
func (b *Backend) Dropped() uint64 {
	return b.conn.droppedCount()
}

func encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	frame, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return frame, nil
}

// push sends a fire-and-forget frame.
func (b *Backend) push(msgType string, payload any) error {
	frame, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(frame)
	return nil
}

// StartSession sends the session and waits for the server ack.
func (b *Backend) StartSession(s *core.Session) error {
	frame, err := encode(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}
	b.conn.setStartFrame(frame)
	return b.conn.sendAndWait(frame, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for the server ack.
func (b *Backend) EndSession() error {
	defer b.conn.setStartFrame(nil)

	frame, err := encode(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	return b.conn.sendAndWait(frame, streaming.TypeEndSession, ackTimeout)
}

func (b *Backend) AddVehicle(v *core.Vehicle) error {
	return b.push(streaming.TypeAddVehicle, v)
}

func (b *Backend) AddPlatoon(p *core.Platoon) error {
	return b.push(streaming.TypeAddPlatoon, p)
}

func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	return b.push(streaming.TypeVehicleState, s)
}

func (b *Backend) RecordPlatoonSnapshot(s *core.PlatoonSnapshot) error {
	return b.push(streaming.TypePlatoonSnapshot, s)
}

func (b *Backend) RecordStatusTransition(t *core.StatusTransition) error {
	return b.push(streaming.TypeStatusTransition, t)
}

func (b *Backend) RecordManeuverEvent(e *core.ManeuverEvent) error {
	return b.push(streaming.TypeManeuverEvent, e)
}

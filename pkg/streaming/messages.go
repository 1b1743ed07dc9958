package streaming

import (
	"encoding/json"

	"github.com/OCAP2/platoon/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession     = "start_session"
	TypeEndSession       = "end_session"
	TypeAddVehicle       = "add_vehicle"
	TypeAddPlatoon       = "add_platoon"
	TypeVehicleState     = "vehicle_state"
	TypePlatoonSnapshot  = "platoon_snapshot"
	TypeStatusTransition = "status_transition"
	TypeManeuverEvent    = "maneuver_event"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload carries the session being streamed.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

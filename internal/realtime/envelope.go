package realtime

import "encoding/json"

// Scope controls how far an envelope travels.
type Scope int

const (
	// ScopeLocal delivers only to sockets connected to this process.
	ScopeLocal Scope = iota

	// ScopeAll additionally forwards through the fanout channel so
	// every gateway process delivers to its own sockets.
	ScopeAll
)

// Envelope is a single broadcast: an event with ordered args targeted
// at a set of rooms. It is consumed on delivery and never stored.
type Envelope struct {
	Namespace string     `json:"namespace,omitempty"`
	Event     string     `json:"event"`
	Args      []any      `json:"args"`
	Rooms     []RoomName `json:"rooms"`
	Scope     Scope      `json:"-"`

	// Origin identifies the publishing process on the fanout wire, so
	// the originator can skip its own echo (it already delivered
	// locally before forwarding).
	Origin string `json:"origin,omitempty"`
}

// Encode marshals the envelope for the fanout wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope unmarshals an envelope from the fanout wire.
// Decoded envelopes are always local in scope: forwarding them again
// would loop.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	e.Scope = ScopeLocal
	return &e, nil
}

// Package protocol defines the envelope monitor stations exchange over the
// messaging backend.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Address identifies a message source or destination.
type Address struct {
	Role    string `json:"role"`
	Station string `json:"station"`
}

// Header carries the routing fields of an envelope. Receivers check it
// before decoding the payload.
type Header struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Src       Address   `json:"src"`
	Dst       Address   `json:"dst"`
	Timestamp time.Time `json:"ts"`
	ExpiresAt time.Time `json:"exp"`
}

// Envelope wraps every message published on the events topic.
type Envelope struct {
	Header
	Payload json.RawMessage `json:"p"`
}

// NewEnvelope creates an outbound envelope with the default TTL for msgType.
func NewEnvelope(msgType string, src, dst Address, payload any) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Envelope{
		Header: Header{
			Version:   Version,
			Type:      msgType,
			ID:        uuid.New().String(),
			Src:       src,
			Dst:       dst,
			Timestamp: now,
			ExpiresAt: now.Add(TTLFor(msgType)),
		},
		Payload: p,
	}, nil
}

// NewBroadcast creates an envelope from station addressed to every station.
func NewBroadcast(msgType, station string, payload any) (*Envelope, error) {
	return NewEnvelope(msgType,
		Address{Role: RoleMonitor, Station: station},
		Address{Role: RoleMonitor, Station: StationBroadcast},
		payload)
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the raw payload into the given target.
func (e *Envelope) DecodePayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}

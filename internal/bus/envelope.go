// Package bus implements the runtime's publish/subscribe event fabric.
// A monitor agent publishes AppointmentAvailable envelopes as it finds
// open slots; a booker agent subscribes to its own session's envelopes
// and publishes BookingResult back onto the bus. Every subscription is
// independently bounded: a slow reader loses its oldest unread
// envelopes rather than stalling the publisher.
package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the discriminant carried by every Envelope.
type EventType string

const (
	// EventAppointmentAvailable carries an AppointmentAvailability payload.
	EventAppointmentAvailable EventType = "AppointmentAvailable"
	// EventBookingRequest carries a BookingRequest payload.
	EventBookingRequest EventType = "BookingRequest"
	// EventBookingResult carries a BookingResult payload.
	EventBookingResult EventType = "BookingResult"
	// EventHeartbeat carries a Heartbeat payload.
	EventHeartbeat EventType = "Heartbeat"
	// EventRuntimeAlert carries a RuntimeAlert payload.
	EventRuntimeAlert EventType = "RuntimeAlert"
)

// BroadcastSession is the session_id wildcard that matches every
// subscription's session filter.
const BroadcastSession = "*"

// Envelope is the unit transported on the bus. Envelopes are immutable
// once published — nothing downstream may mutate a received Envelope.
type Envelope struct {
	// ID uniquely identifies this envelope.
	ID string `json:"id"`
	// CreatedAt is when the envelope was constructed, in UTC.
	CreatedAt time.Time `json:"created_at"`
	// Type is the payload discriminant.
	Type EventType `json:"type"`
	// SessionID is the routing key. BroadcastSession matches every filter.
	SessionID string `json:"session_id"`
	// Payload holds the typed content named by Type, or a Closed value
	// when this envelope is the bus-close sentinel.
	Payload any `json:"payload"`
	// TraceID optionally correlates an envelope with a wider operation.
	TraceID string `json:"trace_id,omitempty"`
}

// AppointmentAvailability is the payload of an AppointmentAvailable envelope.
type AppointmentAvailability struct {
	SessionID string         `json:"session_id"`
	SlotID    string         `json:"slot_id"`
	SlotTime  time.Time      `json:"slot_time"`
	Location  string         `json:"location,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// BookingRequest is the payload of a BookingRequest envelope.
type BookingRequest struct {
	SessionID string                  `json:"session_id"`
	Slot      AppointmentAvailability `json:"slot"`
}

// BookingResult is the payload of a BookingResult envelope.
type BookingResult struct {
	SessionID          string                  `json:"session_id"`
	Success            bool                    `json:"success"`
	ConfirmationNumber string                  `json:"confirmation_number,omitempty"`
	Message            string                  `json:"message,omitempty"`
	Slot               AppointmentAvailability `json:"slot"`
	RawResponse        any                     `json:"raw_response,omitempty"`
}

// Heartbeat is the payload of a Heartbeat envelope, emitted by a
// monitor agent after every poll cycle.
type Heartbeat struct {
	Agent     string    `json:"agent"`
	Status    string    `json:"status"` // "ok" or "error"
	Timestamp time.Time `json:"timestamp"`
}

const (
	// HeartbeatOK reports a successful poll cycle.
	HeartbeatOK = "ok"
	// HeartbeatError reports that the poll cycle raised an error; the
	// loop itself keeps running.
	HeartbeatError = "error"
)

// RuntimeAlert is the payload of a RuntimeAlert envelope, used for
// operator-facing notices that don't fit another event type.
type RuntimeAlert struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Closed is the sentinel payload delivered to every open subscription
// when the bus is closed. Consumers should treat it as "no more
// envelopes are coming" and exit their read loop.
type Closed struct {
	BusClosed bool `json:"bus_closed"`
}

// IsClosed reports whether e is the bus-close sentinel.
func (e Envelope) IsClosed() bool {
	c, ok := e.Payload.(Closed)
	return ok && c.BusClosed
}

// envelopeWire is Envelope's on-the-wire shape: Payload travels as raw
// JSON so UnmarshalJSON can decode it into the concrete type named by
// Type, the tagged-variant rendering described in the design notes.
// Plain json.Marshal/Unmarshal of an `any` field can only ever produce
// a map[string]interface{} on the way back in, which silently breaks
// every consumer's type assertion on Payload — this is what makes
// Envelope round-trippable through a wire transport like RedisBus.
type envelopeWire struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	TraceID   string          `json:"trace_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope payload: %w", err)
	}
	return json.Marshal(envelopeWire{
		ID:        e.ID,
		CreatedAt: e.CreatedAt,
		Type:      e.Type,
		SessionID: e.SessionID,
		Payload:   payload,
		TraceID:   e.TraceID,
	})
}

// UnmarshalJSON implements json.Unmarshaler, switching on Type to
// decode Payload into the concrete struct that type names instead of
// leaving it as a generic map.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.ID = wire.ID
	e.CreatedAt = wire.CreatedAt
	e.Type = wire.Type
	e.SessionID = wire.SessionID
	e.TraceID = wire.TraceID

	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		e.Payload = nil
		return nil
	}

	switch wire.Type {
	case EventAppointmentAvailable:
		var p AppointmentAvailability
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal AppointmentAvailability payload: %w", err)
		}
		e.Payload = p
	case EventBookingRequest:
		var p BookingRequest
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal BookingRequest payload: %w", err)
		}
		e.Payload = p
	case EventBookingResult:
		var p BookingResult
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal BookingResult payload: %w", err)
		}
		e.Payload = p
	case EventHeartbeat:
		var p Heartbeat
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal Heartbeat payload: %w", err)
		}
		e.Payload = p
	case EventRuntimeAlert:
		var p RuntimeAlert
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal RuntimeAlert payload: %w", err)
		}
		e.Payload = p
	default:
		// The bus-close sentinel carries no EventType. Recognize it
		// explicitly rather than falling back to a generic map.
		var c Closed
		if err := json.Unmarshal(wire.Payload, &c); err == nil && c.BusClosed {
			e.Payload = c
			return nil
		}
		var generic any
		if err := json.Unmarshal(wire.Payload, &generic); err != nil {
			return fmt.Errorf("unmarshal envelope payload: %w", err)
		}
		e.Payload = generic
	}
	return nil
}

package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Table identifies the entity kind a change event refers to.
type Table string

// Tables carried on the room change feed.
const (
	TableMessages     Table = "messages"
	TableReactions    Table = "reactions"
	TableParticipants Table = "participants"
)

// EventType is the mutation kind of a change event.
type EventType string

// Event types delivered by the feed.
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is a single row-level change notification. Old carries the
// previous row for deletes, New the current row for inserts and updates.
// Events are ordered per room subscription but not across tables.
type ChangeEvent struct {
	Table  Table           `json:"table"`
	Type   EventType       `json:"type"`
	RoomID string          `json:"room_id"`
	Old    json.RawMessage `json:"old,omitempty"`
	New    json.RawMessage `json:"new,omitempty"`
	Source string          `json:"source,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

// NewChange builds a change event, marshalling old/new payloads. Either
// payload may be nil.
func NewChange(table Table, eventType EventType, roomID string, oldRow, newRow interface{}) (ChangeEvent, error) {
	event := ChangeEvent{
		Table:  table,
		Type:   eventType,
		RoomID: roomID,
	}

	if oldRow != nil {
		raw, err := json.Marshal(oldRow)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("failed to marshal old row: %w", err)
		}
		event.Old = raw
	}

	if newRow != nil {
		raw, err := json.Marshal(newRow)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("failed to marshal new row: %w", err)
		}
		event.New = raw
	}

	return event, nil
}

// DecodeNew unmarshals the event's new row into out.
func (e ChangeEvent) DecodeNew(out interface{}) error {
	if len(e.New) == 0 {
		return fmt.Errorf("change event has no new row")
	}
	return json.Unmarshal(e.New, out)
}

// DecodeOld unmarshals the event's old row into out.
func (e ChangeEvent) DecodeOld(out interface{}) error {
	if len(e.Old) == 0 {
		return fmt.Errorf("change event has no old row")
	}
	return json.Unmarshal(e.Old, out)
}

// PresenceState is the ephemeral per-connection state published on the
// presence channel. It is never persisted; entries vanish when their
// heartbeat TTL lapses.
type PresenceState struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	IsTyping bool      `json:"isTyping"`
	OnlineAt time.Time `json:"online_at"`
}

// DecodePresenceState strictly decodes a published presence payload,
// rejecting unknown fields so arbitrary client blobs cannot smuggle state in.
func DecodePresenceState(data []byte) (PresenceState, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var state PresenceState
	if err := decoder.Decode(&state); err != nil {
		return PresenceState{}, fmt.Errorf("invalid presence payload: %w", err)
	}
	return state, nil
}

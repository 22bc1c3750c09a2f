// Package realtime implements the change feed and presence channel on top of
// Redis Pub/Sub. Every row mutation in the CRUD services is published here and
// consumed by table mirrors; presence channels track which users are online.
package realtime

import "encoding/json"

// EventType tags a change event.
type EventType string

const (
	// EventCreated indicates a new row was inserted.
	EventCreated EventType = "created"
	// EventUpdated indicates an existing row was modified.
	EventUpdated EventType = "updated"
	// EventDeleted indicates a row was removed.
	EventDeleted EventType = "deleted"
)

// ChangeEvent describes a single row-level change on a table. Events for a
// given table are published in commit order; New carries the row after the
// change, Old the row before it (at minimum its id for deletes).
type ChangeEvent struct {
	Type  EventType       `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Payload returns the record the event should be applied with: the new row
// for creates and updates, the old row for deletes.
func (e ChangeEvent) Payload() json.RawMessage {
	if e.Type == EventDeleted {
		return e.Old
	}
	return e.New
}

// NewChange builds a ChangeEvent, marshalling the given rows. A nil row is
// omitted from the payload.
func NewChange(typ EventType, table string, newRow, oldRow any) (ChangeEvent, error) {
	evt := ChangeEvent{Type: typ, Table: table}
	if newRow != nil {
		data, err := json.Marshal(newRow)
		if err != nil {
			return ChangeEvent{}, err
		}
		evt.New = data
	}
	if oldRow != nil {
		data, err := json.Marshal(oldRow)
		if err != nil {
			return ChangeEvent{}, err
		}
		evt.Old = data
	}
	return evt, nil
}

package models

import (
	"encoding/json"
	"fmt"
)

// Action is the kind of repository operation carried by an Event.
type Action string

const (
	ActionCreate Action = "create"
	// ActionUpdate is treated as a create of a new revision at the same locator.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one change-stream entry scoped to a record slot.
type Event struct {
	Action     Action          `json:"action"`
	Owner      string          `json:"owner"`
	Collection string          `json:"collection"`
	RecordKey  string          `json:"recordKey"`
	CommitCID  string          `json:"cid,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	// Source names the stream the event arrived on; Cursor is its resume position.
	Source string `json:"-"`
	Cursor string `json:"-"`
}

// Locator returns the validated locator for the event's record slot.
func (e Event) Locator() (Locator, error) {
	return NewLocator(e.Owner, e.Collection, e.RecordKey)
}

func (e Event) String() string {
	return fmt.Sprintf("%s at://%s/%s/%s", e.Action, e.Owner, e.Collection, e.RecordKey)
}

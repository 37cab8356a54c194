// Package events defines the typed envelopes pushed over the real-time
// channel. The hub fans envelopes out to dashboard subscribers; the pipeline
// engine publishes one state_update per stage transition.
package events

import (
	"time"

	"github.com/triagebot/triage/internal/types"
)

// EventType represents the kind of envelope pushed to subscribers.
type EventType string

const (
	// EventTypeConnection is the acknowledgement sent to a new subscriber.
	// There is no history replay: a subscriber joining mid-run misses
	// earlier events for that run.
	EventTypeConnection EventType = "connection"
	// EventTypeStateUpdate carries a pipeline state snapshot
	EventTypeStateUpdate EventType = "state_update"
	// EventTypeError carries a processing error notice
	EventTypeError EventType = "error"
	// EventTypePong answers a client liveness probe
	EventTypePong EventType = "pong"
)

// IsValid checks if the event type is recognized
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeConnection, EventTypeStateUpdate, EventTypeError, EventTypePong:
		return true
	}
	return false
}

// Envelope is the wire format for every pushed event.
type Envelope struct {
	// ID uniquely identifies this envelope
	ID string `json:"id"`
	// Type is the event kind tag
	Type EventType `json:"type"`
	// Data is the typed payload, nil for acknowledgements
	Data *StateUpdateData `json:"data,omitempty"`
	// Message is a human-readable note, used by connection and error events
	Message string `json:"message,omitempty"`
	// Timestamp is when the envelope was created
	Timestamp time.Time `json:"timestamp"`
}

// StateUpdateData is the payload of a state_update envelope.
type StateUpdateData struct {
	IssueID        string               `json:"issue_id"`
	IssueNumber    int                  `json:"issue_number"`
	RepoFullName   string               `json:"repository_full_name"`
	Stage          types.Stage          `json:"processing_stage"`
	ApprovalStatus types.ApprovalStatus `json:"approval_status"`
	Classification types.Classification `json:"classification,omitempty"`
	DraftText      string               `json:"draft_response,omitempty"`
	HumanEdits     string               `json:"human_edits,omitempty"`
}

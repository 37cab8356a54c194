package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/triagebot/triage/internal/types"
)

// NewConnectionAck creates the acknowledgement envelope sent to a subscriber
// immediately after it connects.
func NewConnectionAck() *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      EventTypeConnection,
		Message:   "Connected to triage agent",
		Timestamp: time.Now().UTC(),
	}
}

// NewStateUpdate creates a state_update envelope from a pipeline state
// snapshot.
func NewStateUpdate(state *types.PipelineState) *Envelope {
	return &Envelope{
		ID:   uuid.New().String(),
		Type: EventTypeStateUpdate,
		Data: &StateUpdateData{
			IssueID:        state.IssueID,
			IssueNumber:    state.IssueNumber,
			RepoFullName:   state.RepoFullName,
			Stage:          state.Stage,
			ApprovalStatus: state.ApprovalStatus,
			Classification: state.Classification,
			DraftText:      state.DraftText,
			HumanEdits:     state.HumanEdits,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewError creates an error notice envelope.
func NewError(message string) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      EventTypeError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewPong answers a client liveness probe.
func NewPong() *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      EventTypePong,
		Timestamp: time.Now().UTC(),
	}
}

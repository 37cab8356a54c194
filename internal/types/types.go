package types

import (
	"fmt"
	"strings"
	"time"
)

// Issue represents an inbound issue report. It is immutable once received:
// the pipeline reads from it but never writes back.
type Issue struct {
	ID           string `json:"id"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	RepoFullName string `json:"repository_full_name"`
}

// Key returns the registry key for this issue.
func (i *Issue) Key() string {
	return fmt.Sprintf("%s#%d", i.RepoFullName, i.Number)
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if i.Number <= 0 {
		return fmt.Errorf("issue number must be positive (got %d)", i.Number)
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if i.RepoFullName == "" || !strings.Contains(i.RepoFullName, "/") {
		return fmt.Errorf("repository must be in owner/repo form (got %q)", i.RepoFullName)
	}
	return nil
}

// Classification is the triage category assigned to an issue.
type Classification string

const (
	ClassBug      Classification = "BUG"
	ClassFeature  Classification = "FEATURE"
	ClassQuestion Classification = "QUESTION"
	// ClassUnset means classification has not run yet
	ClassUnset Classification = ""
)

// IsValid checks if the classification value is valid
func (c Classification) IsValid() bool {
	switch c {
	case ClassBug, ClassFeature, ClassQuestion:
		return true
	}
	return false
}

// ParseClassification normalizes a raw classifier label. Unknown labels fall
// back to QUESTION so a sloppy classifier response can never stall triage.
func ParseClassification(raw string) Classification {
	c := Classification(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.IsValid() {
		return ClassQuestion
	}
	return c
}

// Stage represents where an issue currently sits in the triage pipeline.
type Stage string

const (
	StageReceived           Stage = "received"
	StageClassifying        Stage = "classifying"
	StageRetrievingContext  Stage = "retrieving_context"
	StageGeneratingResponse Stage = "generating_response"
	StageAwaitingApproval   Stage = "awaiting_approval"
	StageApproved           Stage = "approved"
	StageRejected           Stage = "rejected"
	StageError              Stage = "error"
)

// IsValid checks if the stage value is valid
func (s Stage) IsValid() bool {
	switch s {
	case StageReceived, StageClassifying, StageRetrievingContext,
		StageGeneratingResponse, StageAwaitingApproval,
		StageApproved, StageRejected, StageError:
		return true
	}
	return false
}

// IsTerminal reports whether no further stage transition is permitted.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageApproved, StageRejected, StageError:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal pipeline
// transition. StageError is absorbing and reachable from any non-terminal
// stage.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageError {
		return true
	}
	switch s {
	case StageReceived:
		return next == StageClassifying
	case StageClassifying:
		// Retrieval is optional; routing may skip straight to generation.
		return next == StageRetrievingContext || next == StageGeneratingResponse
	case StageRetrievingContext:
		return next == StageGeneratingResponse
	case StageGeneratingResponse:
		return next == StageAwaitingApproval
	case StageAwaitingApproval:
		return next == StageApproved || next == StageRejected
	}
	return false
}

// ApprovalStatus represents the human disposition of a draft.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsValid checks if the approval status value is valid
func (a ApprovalStatus) IsValid() bool {
	switch a {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// PipelineState is the mutable record the pipeline engine owns for one run.
// The engine publishes copies via Snapshot; the registry holds the
// authoritative terminal copy.
type PipelineState struct {
	IssueID          string         `json:"issue_id"`
	IssueNumber      int            `json:"issue_number"`
	IssueTitle       string         `json:"issue_title"`
	IssueBody        string         `json:"issue_body"`
	RepoFullName     string         `json:"repository_full_name"`
	Classification   Classification `json:"classification"`
	RetrievedContext []string       `json:"retrieved_context"`
	DraftText        string         `json:"draft_response"`
	Stage            Stage          `json:"processing_stage"`
	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	HumanEdits       string         `json:"human_edits,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewPipelineState initializes a run record for an issue at StageReceived.
func NewPipelineState(issue *Issue) *PipelineState {
	return &PipelineState{
		IssueID:          issue.ID,
		IssueNumber:      issue.Number,
		IssueTitle:       issue.Title,
		IssueBody:        issue.Body,
		RepoFullName:     issue.RepoFullName,
		Classification:   ClassUnset,
		RetrievedContext: []string{},
		Stage:            StageReceived,
		ApprovalStatus:   ApprovalPending,
		UpdatedAt:        time.Now().UTC(),
	}
}

// Advance moves the state to the next stage, enforcing the transition table.
// Rejecting an illegal write here is what keeps the stage-ordering invariant
// honest: classification must be set before the state moves past classifying.
func (s *PipelineState) Advance(next Stage) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid stage: %s", next)
	}
	if !s.Stage.CanTransitionTo(next) {
		return fmt.Errorf("illegal stage transition: %s → %s", s.Stage, next)
	}
	if s.Stage == StageClassifying && next != StageError && !s.Classification.IsValid() {
		return fmt.Errorf("classification must be set before leaving %s", StageClassifying)
	}
	s.Stage = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve sets the human disposition of a draft awaiting approval. After
// approval or rejection the record is terminal.
func (s *PipelineState) Resolve(status ApprovalStatus) error {
	if s.Stage != StageAwaitingApproval {
		return fmt.Errorf("approval status is only mutable at %s (stage is %s)", StageAwaitingApproval, s.Stage)
	}
	switch status {
	case ApprovalApproved:
		s.ApprovalStatus = ApprovalApproved
		s.Stage = StageApproved
	case ApprovalRejected:
		s.ApprovalStatus = ApprovalRejected
		s.Stage = StageRejected
	default:
		return fmt.Errorf("cannot resolve to %q", status)
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail drives the state to the absorbing error stage with a diagnostic
// visible in the draft text.
func (s *PipelineState) Fail(err error) {
	s.Stage = StageError
	s.ApprovalStatus = ApprovalRejected
	s.DraftText = fmt.Sprintf("Error processing issue: %v", err)
	s.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a deep copy safe to hand to other goroutines. The engine
// never publishes the mutable original.
func (s *PipelineState) Snapshot() *PipelineState {
	cp := *s
	cp.RetrievedContext = make([]string, len(s.RetrievedContext))
	copy(cp.RetrievedContext, s.RetrievedContext)
	return &cp
}

// DraftRecord is one registry entry: the authoritative pipeline state for an
// issue plus, once the draft has been posted, the tracked comment that later
// slash commands locate and mutate.
type DraftRecord struct {
	// State is the pipeline state for dashboard-driven disposition.
	State *PipelineState `json:"state"`
	// CommentID is the tracked comment on the issue thread, 0 when the
	// draft was never delivered (chat-mode tracking tuple).
	CommentID int64 `json:"comment_id,omitempty"`
}

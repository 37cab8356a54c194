package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triagebot/triage/internal/events"
	"github.com/triagebot/triage/internal/types"
)

// The drafts API drives dashboard-mode disposition: drafts live in the
// registry until a human approves, rejects, or edits them here. Records
// stay in the registry after disposition so /api/issues shows history;
// Resolve's terminal-state check is what makes a replayed disposition fail.

func (s *Server) handlePendingDrafts(c *gin.Context) {
	records := s.registry.ListPending()
	states := make([]*types.PipelineState, 0, len(records))
	for _, rec := range records {
		if rec.State != nil {
			states = append(states, rec.State)
		}
	}
	c.JSON(http.StatusOK, gin.H{"pending_drafts": states, "count": len(states)})
}

func (s *Server) handleListIssues(c *gin.Context) {
	records := s.registry.List()
	states := make([]*types.PipelineState, 0, len(records))
	for _, rec := range records {
		if rec.State != nil {
			states = append(states, rec.State)
		}
	}
	c.JSON(http.StatusOK, gin.H{"issues": states, "count": len(states)})
}

func (s *Server) handleGetDraft(c *gin.Context) {
	_, state, found := s.registry.FindByIssueID(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleApproveDraft(c *gin.Context) {
	s.resolveDraft(c, types.ApprovalApproved, "")
}

func (s *Server) handleRejectDraft(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	s.resolveDraft(c, types.ApprovalRejected, body.Reason)
}

func (s *Server) handleEditApproveDraft(c *gin.Context) {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	s.resolveDraftEdited(c, body.Content)
}

// resolveDraft moves a pending draft to approved or rejected, posts the
// response to the tracker on approval, and broadcasts the new state. The
// record is mutated only inside registry.Update; everything after the lock
// works on a snapshot copy.
func (s *Server) resolveDraft(c *gin.Context, status types.ApprovalStatus, reason string) {
	key, _, found := s.registry.FindByIssueID(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}

	var (
		snapshot   *types.PipelineState
		resolveErr error
	)
	s.registry.Update(key, func(rec *types.DraftRecord) *types.DraftRecord {
		if rec == nil || rec.State == nil {
			resolveErr = fmt.Errorf("draft no longer tracked")
			return rec
		}
		if resolveErr = rec.State.Resolve(status); resolveErr != nil {
			return rec
		}
		if status == types.ApprovalRejected && reason != "" {
			rec.State.RejectionReason = reason
		}
		snapshot = rec.State.Snapshot()
		return rec
	})
	if resolveErr != nil {
		c.JSON(http.StatusConflict, gin.H{"error": resolveErr.Error()})
		return
	}

	if status == types.ApprovalApproved {
		s.postResolved(c, snapshot, snapshot.DraftText)
	}
	s.hub.Broadcast(events.NewStateUpdate(snapshot))

	c.JSON(http.StatusOK, gin.H{"status": string(status), "issue_id": snapshot.IssueID})
}

// resolveDraftEdited approves with operator-supplied content replacing the
// generated draft. The original draft text stays on the record; the edit is
// what gets posted.
func (s *Server) resolveDraftEdited(c *gin.Context, content string) {
	key, _, found := s.registry.FindByIssueID(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}

	var (
		snapshot   *types.PipelineState
		resolveErr error
	)
	s.registry.Update(key, func(rec *types.DraftRecord) *types.DraftRecord {
		if rec == nil || rec.State == nil {
			resolveErr = fmt.Errorf("draft no longer tracked")
			return rec
		}
		if resolveErr = rec.State.Resolve(types.ApprovalApproved); resolveErr != nil {
			return rec
		}
		rec.State.HumanEdits = content
		snapshot = rec.State.Snapshot()
		return rec
	})
	if resolveErr != nil {
		c.JSON(http.StatusConflict, gin.H{"error": resolveErr.Error()})
		return
	}

	s.postResolved(c, snapshot, content)
	s.hub.Broadcast(events.NewStateUpdate(snapshot))

	c.JSON(http.StatusOK, gin.H{"status": "approved", "issue_id": snapshot.IssueID, "edited": true})
}

// postResolved delivers the approved response to the issue thread.
// Tracker failure is logged, never surfaced to the API caller; the
// disposition already happened.
func (s *Server) postResolved(c *gin.Context, state *types.PipelineState, body string) {
	if s.commenter == nil {
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	if _, err := s.commenter.PostComment(ctx, state.RepoFullName, state.IssueNumber, body); err != nil {
		s.log.Error("posting approved response failed", "issue_id", state.IssueID, "error", err)
	}
}

package chatops

import (
	"context"
	"log/slog"

	"github.com/triagebot/triage/internal/events"
	"github.com/triagebot/triage/internal/registry"
	"github.com/triagebot/triage/internal/types"
)

// Tracker is the slice of the issue-tracker client the router needs to
// finalize, replace, or delete a tracked draft comment.
type Tracker interface {
	GetComment(ctx context.Context, repo string, commentID int64) (string, error)
	UpdateComment(ctx context.Context, repo string, commentID int64, body string) error
	DeleteComment(ctx context.Context, repo string, commentID int64) error
}

// Publisher fans a state change out to live observers.
type Publisher interface {
	Broadcast(env *events.Envelope)
}

// Router maps parsed commands onto approval-state transitions for tracked
// drafts. The registry entry is removed on every successful transition, so a
// replayed command is a guaranteed no-op: idempotency by construction, not
// by accident.
type Router struct {
	registry *registry.Registry
	tracker  Tracker
	pub      Publisher
	log      *slog.Logger
}

// NewRouter wires a command router.
func NewRouter(reg *registry.Registry, tracker Tracker, pub Publisher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry: reg,
		tracker:  tracker,
		pub:      pub,
		log:      log,
	}
}

// Handle applies one command to the draft tracked under issueKey.
//
// Commands against an untracked issue, and revise without replacement text,
// are deliberate no-ops: logged, never surfaced to the commenter. Tracker
// delivery failures are logged and leave the registry entry untouched; there
// is no automatic retry.
func (r *Router) Handle(ctx context.Context, cmd *types.Command, issueKey, repo string) {
	if err := cmd.Validate(); err != nil {
		r.log.Warn("ignoring malformed command", "issue", issueKey, "actor", cmd.Actor, "error", err)
		return
	}

	rec := r.registry.Get(issueKey)
	if rec == nil || rec.CommentID == 0 {
		r.log.Warn("command for untracked issue ignored", "issue", issueKey, "command", cmd.Name, "actor", cmd.Actor)
		return
	}

	switch cmd.Name {
	case types.CommandApprove:
		r.approve(ctx, rec, issueKey, repo, cmd.Actor)
	case types.CommandRevise:
		r.revise(ctx, rec, issueKey, repo, cmd)
	case types.CommandReject:
		r.reject(ctx, rec, issueKey, repo, cmd.Actor)
	}
}

func (r *Router) approve(ctx context.Context, rec *types.DraftRecord, issueKey, repo, actor string) {
	body, err := r.tracker.GetComment(ctx, repo, rec.CommentID)
	if err != nil {
		r.log.Error("approve: fetching tracked comment failed", "issue", issueKey, "comment", rec.CommentID, "error", err)
		return
	}

	if err := r.tracker.UpdateComment(ctx, repo, rec.CommentID, FormatApprovedComment(body)); err != nil {
		r.log.Error("approve: updating tracked comment failed", "issue", issueKey, "comment", rec.CommentID, "error", err)
		return
	}

	r.finalize(issueKey, types.ApprovalApproved, "")
	r.log.Info("draft approved", "issue", issueKey, "comment", rec.CommentID, "actor", actor)
}

func (r *Router) revise(ctx context.Context, rec *types.DraftRecord, issueKey, repo string, cmd *types.Command) {
	if err := r.tracker.UpdateComment(ctx, repo, rec.CommentID, FormatRevisedComment(cmd.Argument)); err != nil {
		r.log.Error("revise: updating tracked comment failed", "issue", issueKey, "comment", rec.CommentID, "error", err)
		return
	}

	r.finalize(issueKey, types.ApprovalApproved, cmd.Argument)
	r.log.Info("draft revised and approved", "issue", issueKey, "comment", rec.CommentID, "actor", cmd.Actor)
}

func (r *Router) reject(ctx context.Context, rec *types.DraftRecord, issueKey, repo, actor string) {
	if err := r.tracker.DeleteComment(ctx, repo, rec.CommentID); err != nil {
		r.log.Error("reject: deleting tracked comment failed", "issue", issueKey, "comment", rec.CommentID, "error", err)
		return
	}

	r.finalize(issueKey, types.ApprovalRejected, "")
	r.log.Info("draft rejected", "issue", issueKey, "comment", rec.CommentID, "actor", actor)
}

// finalize resolves the dashboard state (when present), removes the registry
// entry, and broadcasts the terminal state. All state mutation happens
// inside registry.Update, under the same lock the dashboard API uses, so a
// concurrent disposition for the same key serializes instead of racing.
func (r *Router) finalize(issueKey string, status types.ApprovalStatus, edits string) {
	var snapshot *types.PipelineState
	r.registry.Update(issueKey, func(cur *types.DraftRecord) *types.DraftRecord {
		if cur == nil {
			return nil
		}
		if cur.State != nil {
			if edits != "" {
				cur.State.HumanEdits = edits
				cur.State.DraftText = edits
			}
			if err := cur.State.Resolve(status); err != nil {
				r.log.Warn("state already terminal", "issue", issueKey, "error", err)
			}
			snapshot = cur.State.Snapshot()
		}
		// Removal on success is the idempotency mechanism.
		return nil
	})
	if snapshot != nil && r.pub != nil {
		r.pub.Broadcast(events.NewStateUpdate(snapshot))
	}
}

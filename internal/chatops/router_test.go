package chatops

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebot/triage/internal/events"
	"github.com/triagebot/triage/internal/registry"
	"github.com/triagebot/triage/internal/types"
)

// fakeTracker records tracker mutations and can be told to fail.
type fakeTracker struct {
	mu       sync.Mutex
	comments map[int64]string

	getErr    error
	updateErr error
	deleteErr error

	updates int
	deletes int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{comments: map[int64]string{}}
}

func (f *fakeTracker) GetComment(_ context.Context, _ string, commentID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	body, ok := f.comments[commentID]
	if !ok {
		return "", errors.New("comment not found")
	}
	return body, nil
}

func (f *fakeTracker) UpdateComment(_ context.Context, _ string, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.comments[commentID] = body
	f.updates++
	return nil
}

func (f *fakeTracker) DeleteComment(_ context.Context, _ string, commentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.comments, commentID)
	f.deletes++
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
}

func (f *fakePublisher) Broadcast(env *events.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, env)
}

func trackedRecord(commentID int64) *types.DraftRecord {
	issue := &types.Issue{ID: "1", Number: 7, Title: "t", RepoFullName: "acme/widget"}
	state := types.NewPipelineState(issue)
	state.Classification = types.ClassBug
	state.Stage = types.StageAwaitingApproval
	state.DraftText = "draft body"
	return &types.DraftRecord{State: state, CommentID: commentID}
}

func TestApproveFinalizesAndRemovesEntry(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	pub := &fakePublisher{}
	router := NewRouter(reg, tracker, pub, nil)

	tracker.comments[55] = FormatDraftComment("draft body", types.ClassBug)
	reg.Put("acme/widget#7", trackedRecord(55))

	router.Handle(context.Background(), &types.Command{Name: types.CommandApprove, Actor: "alice"}, "acme/widget#7", "acme/widget")

	assert.Nil(t, reg.Get("acme/widget#7"))
	assert.Equal(t, 1, tracker.updates)
	assert.Contains(t, tracker.comments[55], approvedFooter)
	assert.NotContains(t, tracker.comments[55], draftHeader)

	require.NotEmpty(t, pub.envelopes)
	last := pub.envelopes[len(pub.envelopes)-1]
	assert.Equal(t, types.StageApproved, last.Data.Stage)
}

func TestApproveTwiceIsNoop(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	tracker.comments[55] = "draft"
	reg.Put("acme/widget#7", trackedRecord(55))

	cmd := &types.Command{Name: types.CommandApprove, Actor: "alice"}
	router.Handle(context.Background(), cmd, "acme/widget#7", "acme/widget")
	require.Equal(t, 1, tracker.updates)

	// The tracking entry was removed on the first success, so the replay
	// causes no second tracker mutation.
	router.Handle(context.Background(), cmd, "acme/widget#7", "acme/widget")
	assert.Equal(t, 1, tracker.updates)
}

func TestReviseReplacesContent(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	tracker.comments[55] = "old draft"
	rec := trackedRecord(55)
	reg.Put("acme/widget#7", rec)

	router.Handle(context.Background(), &types.Command{
		Name:     types.CommandRevise,
		Argument: "Corrected answer.",
		Actor:    "alice",
	}, "acme/widget#7", "acme/widget")

	assert.Nil(t, reg.Get("acme/widget#7"))
	assert.Contains(t, tracker.comments[55], "Corrected answer.")
	assert.Contains(t, tracker.comments[55], revisedFooter)
	assert.Equal(t, "Corrected answer.", rec.State.HumanEdits)
	assert.Equal(t, types.StageApproved, rec.State.Stage)
}

func TestReviseWithoutArgumentIsNoopBeforeMutation(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	tracker.comments[55] = "prior content"
	reg.Put("acme/widget#7", trackedRecord(55))

	router.Handle(context.Background(), &types.Command{Name: types.CommandRevise, Actor: "alice"}, "acme/widget#7", "acme/widget")

	// No mutation of any kind: comment unchanged, entry still tracked.
	assert.Equal(t, "prior content", tracker.comments[55])
	assert.Equal(t, 0, tracker.updates)
	assert.NotNil(t, reg.Get("acme/widget#7"))
}

func TestRejectDeletesCommentThenApproveIsNoop(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	tracker.comments[55] = "draft"
	reg.Put("acme/widget#7", trackedRecord(55))

	router.Handle(context.Background(), &types.Command{Name: types.CommandReject, Actor: "alice"}, "acme/widget#7", "acme/widget")

	assert.Equal(t, 1, tracker.deletes)
	assert.NotContains(t, tracker.comments, int64(55))
	assert.Nil(t, reg.Get("acme/widget#7"))

	// Subsequent approve for the same issue is a no-op.
	router.Handle(context.Background(), &types.Command{Name: types.CommandApprove, Actor: "alice"}, "acme/widget#7", "acme/widget")
	assert.Equal(t, 0, tracker.updates)
}

func TestCommandForUntrackedIssueIsNoop(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	router.Handle(context.Background(), &types.Command{Name: types.CommandApprove, Actor: "alice"}, "acme/widget#404", "acme/widget")

	assert.Equal(t, 0, tracker.updates)
	assert.Equal(t, 0, tracker.deletes)
}

func TestTrackerFailureRetainsEntry(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	tracker.comments[55] = "draft"
	tracker.updateErr = errors.New("502 bad gateway")
	reg.Put("acme/widget#7", trackedRecord(55))

	router.Handle(context.Background(), &types.Command{Name: types.CommandApprove, Actor: "alice"}, "acme/widget#7", "acme/widget")

	// Delivery failed: entry retained so the maintainer can retry manually.
	assert.NotNil(t, reg.Get("acme/widget#7"))
}

func TestChatModeRecordWithoutState(t *testing.T) {
	reg := registry.New()
	tracker := newFakeTracker()
	router := NewRouter(reg, tracker, nil, nil)

	tracker.comments[55] = "draft"
	reg.Put("acme/widget#7", &types.DraftRecord{CommentID: 55})

	router.Handle(context.Background(), &types.Command{Name: types.CommandReject, Actor: "alice"}, "acme/widget#7", "acme/widget")

	assert.Equal(t, 1, tracker.deletes)
	assert.Nil(t, reg.Get("acme/widget#7"))
}

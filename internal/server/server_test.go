package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebot/triage/internal/gate"
	"github.com/triagebot/triage/internal/hub"
	"github.com/triagebot/triage/internal/registry"
	"github.com/triagebot/triage/internal/types"
)

const testSecret = "test-webhook-secret"

type fakePipeline struct {
	mu   sync.Mutex
	runs []*types.Issue
}

func (f *fakePipeline) Run(ctx context.Context, issue *types.Issue) *types.PipelineState {
	f.mu.Lock()
	f.runs = append(f.runs, issue)
	f.mu.Unlock()

	state := types.NewPipelineState(issue)
	state.Classification = types.ClassQuestion
	state.DraftText = "generated draft"
	state.Stage = types.StageAwaitingApproval
	return state
}

func (f *fakePipeline) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type fakeRouter struct {
	mu   sync.Mutex
	cmds []*types.Command
}

func (f *fakeRouter) Handle(ctx context.Context, cmd *types.Command, issueKey, repo string) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
}

func (f *fakeRouter) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

type fakeCommenter struct {
	mu     sync.Mutex
	posted []string
	nextID int64
	err    error
}

func (f *fakeCommenter) PostComment(ctx context.Context, repo string, issueNumber int, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.posted = append(f.posted, body)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeCommenter) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

type fixture struct {
	server    *Server
	registry  *registry.Registry
	pipeline  *fakePipeline
	router    *fakeRouter
	commenter *fakeCommenter
	hub       *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry:  registry.New(),
		pipeline:  &fakePipeline{},
		router:    &fakeRouter{},
		commenter: &fakeCommenter{},
		hub:       hub.New(slog.Default()),
	}
	srv, err := New(Config{
		WebhookSecret: testSecret,
		Registry:      f.registry,
		Pipeline:      f.pipeline,
		Router:        f.router,
		Commenter:     f.commenter,
		Hub:           f.hub,
	})
	require.NoError(t, err)
	f.server = srv
	return f
}

func issueOpenedPayload(id int64, number int) []byte {
	raw, _ := json.Marshal(map[string]any{
		"action": "opened",
		"issue": map[string]any{
			"id":     id,
			"number": number,
			"title":  "Crash on startup",
			"body":   "It crashes every time.",
		},
		"repository": map[string]any{"full_name": "acme/widgets"},
	})
	return raw
}

func commentCreatedPayload(number int, body string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"action": "created",
		"issue":  map[string]any{"id": 1, "number": number, "title": "t", "body": "b"},
		"comment": map[string]any{
			"body": body,
			"user": map[string]any{"login": "maintainer"},
		},
		"repository": map[string]any{"full_name": "acme/widgets"},
	})
	return raw
}

func (f *fixture) deliver(t *testing.T, event, delivery string, payload []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", delivery)
	if sign {
		req.Header.Set("X-Hub-Signature-256", gate.Sign(payload, testSecret))
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	w := f.deliver(t, "issues", "d1", issueOpenedPayload(100, 1), false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Tampered body with a stale signature.
	payload := issueOpenedPayload(100, 1)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(append(payload, ' ')))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", gate.Sign(payload, testSecret))
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 0, f.pipeline.runCount())
	assert.Equal(t, 0, f.registry.Len())
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)
	payload := []byte("{not json")
	w := f.deliver(t, "issues", "d1", payload, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.pipeline.runCount())
}

func TestWebhookIssueOpenedRunsPipelineAndPostsDraft(t *testing.T) {
	f := newFixture(t)

	w := f.deliver(t, "issues", "d1", issueOpenedPayload(100, 7), true)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return f.registry.Get("acme/widgets#7") != nil
	}, 2*time.Second, 10*time.Millisecond)

	rec := f.registry.Get("acme/widgets#7")
	require.NotNil(t, rec.State)
	assert.Equal(t, types.StageAwaitingApproval, rec.State.Stage)
	assert.NotZero(t, rec.CommentID)
	assert.Equal(t, 1, f.commenter.postCount())
	f.commenter.mu.Lock()
	assert.Contains(t, f.commenter.posted[0], "generated draft")
	f.commenter.mu.Unlock()
}

func TestWebhookDuplicateDeliveryIgnored(t *testing.T) {
	f := newFixture(t)
	payload := issueOpenedPayload(100, 7)

	w := f.deliver(t, "issues", "same-delivery", payload, true)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = f.deliver(t, "issues", "same-delivery", payload, true)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		return f.pipeline.runCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.pipeline.runCount())

	// A distinct delivery for the same issue is admitted.
	w = f.deliver(t, "issues", "other-delivery", payload, true)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return f.pipeline.runCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookCommentRoutesCommand(t *testing.T) {
	f := newFixture(t)

	w := f.deliver(t, "issue_comment", "d1", commentCreatedPayload(7, "/approve"), true)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return f.router.commandCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.router.mu.Lock()
	assert.Equal(t, types.CommandApprove, f.router.cmds[0].Name)
	f.router.mu.Unlock()
}

func TestWebhookPlainCommentIgnored(t *testing.T) {
	f := newFixture(t)

	w := f.deliver(t, "issue_comment", "d1", commentCreatedPayload(7, "thanks, looking into it"), true)
	assert.Equal(t, http.StatusOK, w.Code)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.router.commandCount())
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"action":"completed"}`)
	w := f.deliver(t, "workflow_run", "d1", payload, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}

func TestHealthAndBanner(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDedupSetEviction(t *testing.T) {
	d := newDedupSet(2)
	assert.True(t, d.Admit("a"))
	assert.True(t, d.Admit("b"))
	assert.False(t, d.Admit("a"))

	// "c" evicts "a"; "a" becomes admissible again.
	assert.True(t, d.Admit("c"))
	assert.True(t, d.Admit("a"))
}

func TestServerConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{WebhookSecret: "s"})
	assert.Error(t, err)
}

func awaitingState(id string, number int) *types.PipelineState {
	issue := &types.Issue{ID: id, Number: number, Title: "t", Body: "b", RepoFullName: "acme/widgets"}
	state := types.NewPipelineState(issue)
	state.Classification = types.ClassBug
	state.DraftText = "draft body"
	state.Stage = types.StageAwaitingApproval
	return state
}

func seedDraft(f *fixture, id string, number int) *types.PipelineState {
	state := awaitingState(id, number)
	key := fmt.Sprintf("acme/widgets#%d", number)
	f.registry.Put(key, &types.DraftRecord{State: state})
	return state
}

func TestDraftsAPILifecycle(t *testing.T) {
	f := newFixture(t)
	seedDraft(f, "100", 1)
	seedDraft(f, "200", 2)

	// Pending list shows both.
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/drafts/pending", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Equal(t, 2, pending.Count)

	// Single fetch by issue ID.
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/drafts/100", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "draft body")

	// Approve posts the draft and broadcasts.
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/drafts/100/approve", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.commenter.postCount())

	rec := f.registry.Get("acme/widgets#1")
	require.NotNil(t, rec)
	assert.Equal(t, types.StageApproved, rec.State.Stage)
	assert.Equal(t, types.ApprovalApproved, rec.State.ApprovalStatus)

	// Second approve hits the terminal-state check.
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/drafts/100/approve", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	// Pending list shrinks to the remaining draft.
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/drafts/pending", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Equal(t, 1, pending.Count)

	// Full issue list still shows both.
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/issues", nil))
	var issues struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	assert.Equal(t, 2, issues.Count)
}

func TestDraftsAPIReject(t *testing.T) {
	f := newFixture(t)
	seedDraft(f, "100", 1)

	body := bytes.NewReader([]byte(`{"reason":"not actionable"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/drafts/100/reject", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	rec := f.registry.Get("acme/widgets#1")
	assert.Equal(t, types.StageRejected, rec.State.Stage)
	assert.Equal(t, "not actionable", rec.State.RejectionReason)
	// Rejection never touches the tracker.
	assert.Equal(t, 0, f.commenter.postCount())
}

func TestDraftsAPIEditApprove(t *testing.T) {
	f := newFixture(t)
	seedDraft(f, "100", 1)

	body := bytes.NewReader([]byte(`{"content":"hand-tuned response"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/drafts/100/edit-approve", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	rec := f.registry.Get("acme/widgets#1")
	assert.Equal(t, types.StageApproved, rec.State.Stage)
	assert.Equal(t, "hand-tuned response", rec.State.HumanEdits)

	require.Equal(t, 1, f.commenter.postCount())
	f.commenter.mu.Lock()
	assert.Equal(t, "hand-tuned response", f.commenter.posted[0])
	f.commenter.mu.Unlock()
}

func TestDraftsAPIEditApproveRequiresContent(t *testing.T) {
	f := newFixture(t)
	seedDraft(f, "100", 1)

	req := httptest.NewRequest(http.MethodPost, "/api/drafts/100/edit-approve", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec := f.registry.Get("acme/widgets#1")
	assert.Equal(t, types.StageAwaitingApproval, rec.State.Stage)
}

func TestDraftsAPINotFound(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/drafts/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/drafts/999/approve", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

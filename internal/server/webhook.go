package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/triagebot/triage/internal/chatops"
	"github.com/triagebot/triage/internal/gate"
	"github.com/triagebot/triage/internal/types"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// webhookPayload is the subset of GitHub's event schema the service reads.
type webhookPayload struct {
	Action string `json:"action"`
	Issue  *struct {
		ID     int64  `json:"id"`
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment *struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// handleWebhook admits GitHub events. Signature verification runs strictly
// before the body is parsed or any state is touched.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !gate.Verify(body, c.GetHeader("X-Hub-Signature-256"), s.secret) {
		s.log.Warn("webhook rejected, bad signature", "delivery", c.GetHeader("X-GitHub-Delivery"))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	event := c.GetHeader("X-GitHub-Event")
	switch {
	case event == "issues" && payload.Action == "opened" && payload.Issue != nil:
		s.admitIssue(c, &payload)
	case event == "issue_comment" && payload.Action == "created" && payload.Comment != nil && payload.Issue != nil:
		s.admitCommand(c, &payload)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event": event})
	}
}

func (s *Server) admitIssue(c *gin.Context, payload *webhookPayload) {
	issue := &types.Issue{
		ID:           strconv.FormatInt(payload.Issue.ID, 10),
		Number:       payload.Issue.Number,
		Title:        payload.Issue.Title,
		Body:         payload.Issue.Body,
		RepoFullName: payload.Repository.FullName,
	}
	if err := issue.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dedupKey := issue.ID + ":" + c.GetHeader("X-GitHub-Delivery")
	if !s.dedup.Admit(dedupKey) {
		s.log.Info("duplicate delivery ignored", "issue", issue.Key(), "key", dedupKey)
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "issue": issue.Key()})
		return
	}

	go s.runPipeline(issue)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "issue": issue.Key()})
}

// runPipeline executes one triage run detached from the webhook response.
// The registry entry is written only after the draft comment (if any) is
// posted, so slash commands always see a complete tracking tuple.
func (s *Server) runPipeline(issue *types.Issue) {
	ctx := context.Background()
	state := s.pipeline.Run(ctx, issue)
	record := &types.DraftRecord{State: state}

	if s.commenter != nil && state.Stage == types.StageAwaitingApproval {
		comment := chatops.FormatDraftComment(state.DraftText, state.Classification)
		id, err := s.commenter.PostComment(ctx, issue.RepoFullName, issue.Number, comment)
		if err != nil {
			s.log.Error("posting draft comment failed", "issue", issue.Key(), "error", err)
		} else {
			record.CommentID = id
		}
	}

	s.registry.Put(issue.Key(), record)
	s.log.Info("pipeline run recorded", "issue", issue.Key(), "stage", state.Stage)
}

func (s *Server) admitCommand(c *gin.Context, payload *webhookPayload) {
	cmd := chatops.ParseCommand(payload.Comment.Body, payload.Comment.User.Login)
	if cmd == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	repo := payload.Repository.FullName
	issueKey := fmt.Sprintf("%s#%d", repo, payload.Issue.Number)
	go s.router.Handle(context.Background(), cmd, issueKey, repo)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "command": string(cmd.Name)})
}

// dedupSet remembers recently admitted delivery keys with FIFO eviction.
// Exact redeliveries are dropped; distinct deliveries for the same issue
// still race last-write-wins in the registry.
type dedupSet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]bool
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{
		capacity: capacity,
		seen:     make(map[string]bool, capacity),
	}
}

// Admit records key and reports whether it was new.
func (d *dedupSet) Admit(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[key] {
		return false
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[key] = true
	d.order = append(d.order, key)
	return true
}

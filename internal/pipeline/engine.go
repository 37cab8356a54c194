// Package pipeline drives one issue from intake to a draft awaiting
// approval. The workflow is an explicit ordered sequence of stage handlers
// with a single routing predicate, not a general graph executor: classify →
// (retrieve) → generate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/triagebot/triage/internal/events"
	"github.com/triagebot/triage/internal/types"
)

// Classifier assigns a triage category from an issue's title and body.
type Classifier interface {
	Classify(ctx context.Context, title, body string) (types.Classification, error)
}

// Retriever finds supporting context snippets for a query.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Responder drafts a response from the classification, issue text, and
// retrieved context.
type Responder interface {
	Draft(ctx context.Context, c types.Classification, title, body string, contextChunks []string) (string, error)
}

// Publisher fans stage snapshots out to live observers. Delivery is
// best-effort; the engine never blocks on it.
type Publisher interface {
	Broadcast(env *events.Envelope)
}

// Config holds engine configuration.
type Config struct {
	Classifier Classifier
	Retriever  Retriever
	Responder  Responder
	Publisher  Publisher
	Policy     RoutingPolicy

	// StageTimeout bounds every collaborator call. A hung collaborator
	// becomes a stage failure instead of stalling the run forever.
	StageTimeout time.Duration
	// RetrieveLimit is the number of context chunks requested per run
	RetrieveLimit int
	// MaxConcurrentRuns bounds simultaneous pipeline runs (0 = 8)
	MaxConcurrentRuns int64

	Logger *slog.Logger
}

// Engine runs the triage pipeline. Stages within one run execute strictly
// sequentially; independent issues run as fully independent concurrent
// tasks bounded only by the run semaphore.
type Engine struct {
	classifier Classifier
	retriever  Retriever
	responder  Responder
	pub        Publisher
	policy     RoutingPolicy

	stageTimeout  time.Duration
	retrieveLimit int
	sem           *semaphore.Weighted
	log           *slog.Logger
}

// New creates an engine. Classifier, Retriever, and Responder are required;
// Publisher may be nil when no dashboard is attached.
func New(cfg Config) (*Engine, error) {
	if cfg.Classifier == nil || cfg.Retriever == nil || cfg.Responder == nil {
		return nil, fmt.Errorf("classifier, retriever, and responder are required")
	}
	if cfg.Policy == nil {
		cfg.Policy = AlwaysRetrieve{}
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 60 * time.Second
	}
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = 10
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		classifier:    cfg.Classifier,
		retriever:     cfg.Retriever,
		responder:     cfg.Responder,
		pub:           cfg.Publisher,
		policy:        cfg.Policy,
		stageTimeout:  cfg.StageTimeout,
		retrieveLimit: cfg.RetrieveLimit,
		sem:           semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		log:           cfg.Logger,
	}, nil
}

// Run drives one issue through classify → (retrieve) → generate and always
// returns a state at awaiting_approval or error; a run is never left
// hanging short of a terminal stage. Collaborator failures are caught at
// the stage boundary and mapped to safe defaults; only an internal engine
// failure reaches the absorbing error stage, and that state is published
// exactly once.
func (e *Engine) Run(ctx context.Context, issue *types.Issue) *types.PipelineState {
	state := types.NewPipelineState(issue)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		state.Fail(fmt.Errorf("acquiring run slot: %w", err))
		e.publish(state)
		return state
	}
	defer e.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			state.Fail(fmt.Errorf("pipeline panic: %v", r))
			e.publish(state)
		}
	}()

	if err := e.runStages(ctx, issue, state); err != nil {
		state.Fail(err)
		e.publish(state)
	}
	return state
}

func (e *Engine) runStages(ctx context.Context, issue *types.Issue, state *types.PipelineState) error {
	// Classify. A classifier failure must never stall the pipeline: fall
	// back to QUESTION and keep going.
	if err := state.Advance(types.StageClassifying); err != nil {
		return err
	}
	e.publish(state)

	classification, err := e.classify(ctx, issue)
	if err != nil {
		e.log.Warn("classifier failed, defaulting to QUESTION", "issue", issue.Key(), "error", err)
		classification = types.ClassQuestion
	}
	state.Classification = classification
	e.log.Info("issue classified", "issue", issue.Key(), "classification", classification)

	// Retrieve, when the routing predicate takes the edge. On failure or
	// skip the context stays the empty slice, never nil.
	if e.policy.ShouldRetrieve(classification) {
		if err := state.Advance(types.StageRetrievingContext); err != nil {
			return err
		}
		e.publish(state)

		chunks, err := e.retrieve(ctx, issue)
		if err != nil {
			e.log.Warn("context retrieval failed, continuing without context", "issue", issue.Key(), "error", err)
			chunks = []string{}
		}
		state.RetrievedContext = chunks
		e.log.Info("context retrieved", "issue", issue.Key(), "chunks", len(chunks))
	} else {
		e.log.Info("retrieval skipped by routing policy", "issue", issue.Key(), "policy", e.policy.Name())
	}

	// Generate. A responder failure produces a visible, clearly marked
	// error draft instead of propagating.
	if err := state.Advance(types.StageGeneratingResponse); err != nil {
		return err
	}
	e.publish(state)

	draft, err := e.generate(ctx, state)
	if err != nil {
		e.log.Error("draft generation failed", "issue", issue.Key(), "error", err)
		draft = errorDraft(err)
	}
	state.DraftText = draft

	if err := state.Advance(types.StageAwaitingApproval); err != nil {
		return err
	}
	state.ApprovalStatus = types.ApprovalPending
	e.publish(state)

	return nil
}

func (e *Engine) classify(ctx context.Context, issue *types.Issue) (types.Classification, error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	return e.classifier.Classify(stageCtx, issue.Title, issue.Body)
}

func (e *Engine) retrieve(ctx context.Context, issue *types.Issue) ([]string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	query := issue.Title
	if issue.Body != "" {
		query = issue.Title + "\n\n" + issue.Body
	}
	chunks, err := e.retriever.Search(stageCtx, query, e.retrieveLimit)
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []string{}
	}
	return chunks, nil
}

func (e *Engine) generate(ctx context.Context, state *types.PipelineState) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	return e.responder.Draft(stageCtx, state.Classification, state.IssueTitle, state.IssueBody, state.RetrievedContext)
}

// publish pushes a snapshot copy of the current state, never the mutable
// original.
func (e *Engine) publish(state *types.PipelineState) {
	if e.pub == nil {
		return
	}
	e.pub.Broadcast(events.NewStateUpdate(state.Snapshot()))
}

func errorDraft(err error) string {
	return fmt.Sprintf(`## Error Generating Response

We encountered an issue while processing your request: %v

Please try again or contact support if the issue persists.`, err)
}

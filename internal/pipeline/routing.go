package pipeline

import (
	"fmt"
	"strings"

	"github.com/triagebot/triage/internal/types"
)

// RoutingPolicy decides, after classification, whether a run takes the
// context-retrieval stage. Routing is a named, swappable predicate rather
// than an inline branch so the two historically attested behaviors stay
// mutually exclusive and explicit.
type RoutingPolicy interface {
	// Name identifies the policy in logs
	Name() string
	// ShouldRetrieve reports whether retrieval runs for this classification
	ShouldRetrieve(c types.Classification) bool
}

// AlwaysRetrieve routes every classification through context retrieval.
// This is the default policy.
type AlwaysRetrieve struct{}

func (AlwaysRetrieve) Name() string { return "always_retrieve" }

func (AlwaysRetrieve) ShouldRetrieve(types.Classification) bool { return true }

// SkipRetrievalFor skips context retrieval for the named classifications
// and retrieves for everything else.
type SkipRetrievalFor struct {
	skip map[types.Classification]bool
}

// NewSkipRetrievalFor builds the skip-set policy.
func NewSkipRetrievalFor(classes ...types.Classification) SkipRetrievalFor {
	skip := make(map[types.Classification]bool, len(classes))
	for _, c := range classes {
		skip[c] = true
	}
	return SkipRetrievalFor{skip: skip}
}

func (p SkipRetrievalFor) Name() string {
	names := make([]string, 0, len(p.skip))
	for c := range p.skip {
		names = append(names, string(c))
	}
	return fmt.Sprintf("skip_retrieval_for(%s)", strings.Join(names, ","))
}

func (p SkipRetrievalFor) ShouldRetrieve(c types.Classification) bool {
	return !p.skip[c]
}

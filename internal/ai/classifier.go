package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/triagebot/triage/internal/types"
)

// classifyBodyLimit truncates the issue body sent for classification.
const classifyBodyLimit = 1000

const classifyPrompt = `You are an expert at triaging software engineering issues.
Classify the issue as one of:
- BUG: Something is broken or not working as expected
- FEATURE: Request for new functionality or enhancement
- QUESTION: General question or clarification needed

Respond with ONLY one word: BUG, FEATURE, or QUESTION

Title: %s

Body: %s`

// Classify assigns a triage category from the issue title and body. An
// unrecognized model answer normalizes to QUESTION.
func (c *Client) Classify(ctx context.Context, title, body string) (types.Classification, error) {
	prompt := fmt.Sprintf(classifyPrompt, title, truncate(body, classifyBodyLimit))

	answer, err := c.complete(ctx, "classify", prompt, 16)
	if err != nil {
		return "", err
	}
	return types.ParseClassification(answer), nil
}

// KeywordClassifier is the no-API fallback: a crude keyword heuristic over
// the title. It never fails.
type KeywordClassifier struct{}

// Classify matches title keywords: bug/error → BUG, feature/add → FEATURE,
// everything else QUESTION.
func (KeywordClassifier) Classify(_ context.Context, title, _ string) (types.Classification, error) {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "bug") || strings.Contains(lower, "error"):
		return types.ClassBug, nil
	case strings.Contains(lower, "feature") || strings.Contains(lower, "add"):
		return types.ClassFeature, nil
	default:
		return types.ClassQuestion, nil
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/triagebot/triage/internal/types"
)

// draftBodyLimit truncates the issue body sent for drafting.
const draftBodyLimit = 2000

const bugPrompt = `You are an expert software engineer helping to triage a bug report using the actual codebase context.

**Issue Title:** %s

**Issue Description:**
%s

**Retrieved Context from Codebase (IMPORTANT - Use this to understand the actual implementation):**
%s

Generate a helpful, professional response that:
1. Acknowledges the issue
2. References specific code/files from the context to analyze the problem
3. Suggests potential root causes based on the actual implementation
4. Provides workarounds or fixes referencing specific code patterns from the codebase
5. Asks clarifying questions if needed
6. Is formatted in clear Markdown

Keep the response concise (under 400 words) and actionable. If the context does not contain relevant information, acknowledge that and ask for more details.`

const featurePrompt = `You are an expert software engineer helping to evaluate a feature request using the actual codebase context.

**Feature Request:** %s

**Description:**
%s

**Retrieved Context from Codebase (IMPORTANT - Use this to understand the actual implementation):**
%s

Generate a helpful, professional response that:
1. Acknowledges the request
2. References specific code/files from the retrieved context to evaluate feasibility
3. Suggests a concrete implementation approach based on existing patterns in the codebase
4. Mentions specific files, functions, or data structures that would need to change
5. Asks clarifying questions if the context does not provide enough detail
6. Is formatted in clear Markdown

Keep the response concise (under 400 words) and constructive.`

const questionPrompt = `You are an expert software engineer helping to answer a technical question.

**Question:** %s

**Details:**
%s

**Retrieved Context from Documentation:**
%s

Generate a helpful, professional response that:
1. Directly answers the question
2. References relevant documentation
3. Provides examples if helpful
4. Suggests related resources
5. Is formatted in clear Markdown

Keep the response concise (under 300 words) and informative.`

// Draft generates a candidate response for a classified issue using the
// retrieved context chunks.
func (c *Client) Draft(ctx context.Context, class types.Classification, title, body string, contextChunks []string) (string, error) {
	var template string
	switch class {
	case types.ClassBug:
		template = bugPrompt
	case types.ClassFeature:
		template = featurePrompt
	default:
		template = questionPrompt
	}

	prompt := fmt.Sprintf(template, title, truncate(body, draftBodyLimit), formatContext(contextChunks))
	return c.complete(ctx, "draft", prompt, 2048)
}

func formatContext(chunks []string) string {
	if len(chunks) == 0 {
		return "No specific documentation found."
	}
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = fmt.Sprintf("**Context %d:**\n%s", i+1, chunk)
	}
	return strings.Join(parts, "\n\n")
}

// TemplateResponder is the no-API fallback: a canned acknowledgement so the
// pipeline still produces a reviewable draft.
type TemplateResponder struct{}

// Draft returns a static acknowledgement mentioning the classification.
func (TemplateResponder) Draft(_ context.Context, class types.Classification, title, _ string, _ []string) (string, error) {
	return fmt.Sprintf(`## Analysis
This appears to be a %s issue.

## Proposed Solution
Thank you for reporting this issue. Our team will investigate and provide more details soon.

**Issue Summary:** %s

This is a canned response. Configure ANTHROPIC_API_KEY for generated responses.`, class, title), nil
}

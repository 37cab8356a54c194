package chatops

import (
	"fmt"
	"strings"

	"github.com/triagebot/triage/internal/types"
)

const (
	draftHeader = "🤖 **Triage draft**"
	draftFooter = "_Reply with `/approve`, `/revise <text>`, or `/reject`._"

	approvedFooter = "✅ **Approved by maintainer**"
	revisedFooter  = "✅ **Revised and approved by maintainer**"
)

// FormatDraftComment wraps a generated draft in draft markers so the thread
// shows it is awaiting human disposition.
func FormatDraftComment(draft string, classification types.Classification) string {
	return fmt.Sprintf("%s (%s)\n\n%s\n\n---\n%s", draftHeader, classification, draft, draftFooter)
}

// FormatApprovedComment strips the draft markers from a posted draft and
// appends the approval footer.
func FormatApprovedComment(body string) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, draftHeader) || trimmed == draftFooter || trimmed == "---" {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))
	return cleaned + "\n\n" + approvedFooter
}

// FormatRevisedComment appends the revision footer to maintainer-supplied
// replacement text.
func FormatRevisedComment(text string) string {
	return strings.TrimSpace(text) + "\n\n" + revisedFooter
}

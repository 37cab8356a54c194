// Package chatops turns free-text issue comments into approval-state
// transitions on tracked drafts.
package chatops

import (
	"strings"

	"github.com/triagebot/triage/internal/types"
)

// ParseCommand scans a comment body for a slash command. A recognized line
// is exactly one of "/approve", "/reject", or "/revise <replacement text>";
// the first recognized line wins. Anything else returns nil and is ignored
// silently.
func ParseCommand(body, actor string) *types.Command {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "/approve":
			return &types.Command{Name: types.CommandApprove, Actor: actor}
		case line == "/reject":
			return &types.Command{Name: types.CommandReject, Actor: actor}
		case line == "/revise" || strings.HasPrefix(line, "/revise "):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "/revise"))
			return &types.Command{Name: types.CommandRevise, Argument: arg, Actor: actor}
		}
	}
	return nil
}

package types

import "fmt"

// CommandName is a recognized slash command parsed from an issue comment.
type CommandName string

const (
	CommandApprove CommandName = "approve"
	CommandRevise  CommandName = "revise"
	CommandReject  CommandName = "reject"
)

// IsValid checks if the command name is recognized
func (c CommandName) IsValid() bool {
	switch c {
	case CommandApprove, CommandRevise, CommandReject:
		return true
	}
	return false
}

// Command is a parsed chat command directed at a tracked draft.
type Command struct {
	Name CommandName `json:"name"`
	// Argument is the replacement text for revise, empty otherwise.
	Argument string `json:"argument,omitempty"`
	// Actor is the login of the commenter who issued the command.
	Actor string `json:"actor"`
}

// Validate checks command shape before any mutation is attempted.
func (c *Command) Validate() error {
	if !c.Name.IsValid() {
		return fmt.Errorf("unknown command: %s", c.Name)
	}
	if c.Name == CommandRevise && c.Argument == "" {
		return fmt.Errorf("revise requires replacement text")
	}
	return nil
}

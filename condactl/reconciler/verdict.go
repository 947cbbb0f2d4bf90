package reconciler

import "fmt"

// CommandFailure identifies the command that stopped a reconciliation.
type CommandFailure struct {
	Command  Command `json:"command"`
	ExitCode int     `json:"exit_code"`
	Message  string  `json:"message"`
}

func (f *CommandFailure) Error() string {
	return fmt.Sprintf("%s failed with exit %d: %s", f.Command, f.ExitCode, f.Message)
}

// Verdict is the outcome of one reconciliation. CommandsRun holds the
// commands that completed, in order, even when a later command failed, so
// callers can see partial progress.
type Verdict struct {
	Changed     bool            `json:"changed"`
	CommandsRun []Command       `json:"commands_run"`
	Output      []string        `json:"output,omitempty"`
	Failure     *CommandFailure `json:"failure,omitempty"`
}

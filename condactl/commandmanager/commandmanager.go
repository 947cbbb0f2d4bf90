package commandmanager

import (
	"context"
	"time"
)

// CommandConfig describes a single external command invocation.
type CommandConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Sudo    bool
}

// CommandResult encapsulates the results from a command execution.
//
// A non-zero ExitCode is not an error: the command ran and reported a status.
// Errors from Run mean the command could not be executed at all.
type CommandResult struct {
	Command   string
	STDOUT    string
	STDERR    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// CommandManager provides methods to execute commands, both locally and remotely.
type CommandManager interface {
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}

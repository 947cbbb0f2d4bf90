// Package reconciler converges a declared set of conda packages against an
// environment's actual installed state, issuing the minimal number of conda
// invocations needed.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cm "github.com/condaops/condactl/condactl/commandmanager"
	"github.com/condaops/condactl/condactl/environmentmanager"
	"github.com/condaops/condactl/condactl/inspector"
	pm "github.com/condaops/condactl/condactl/packagemanager"
)

// Reconciler drives one environment toward its desired state. Commands are
// executed strictly in order; conda owns the environment lock, so nothing
// here runs in parallel.
type Reconciler struct {
	Manager      pm.PackageManager
	Environments environmentmanager.EnvironmentManager
	Inspector    *inspector.Inspector
}

// New wires a Reconciler over the given command manager and conda
// executable. The executable is resolved per reconciler rather than held as
// process-wide state, so callers targeting different conda installations
// stay independent.
func New(commandManager cm.CommandManager, executable string) *Reconciler {
	manager := &pm.CondaManager{
		CommandManager: commandManager,
		Executable:     executable,
	}
	environments := &environmentmanager.CondaEnvironmentManager{Manager: manager}
	return &Reconciler{
		Manager:      manager,
		Environments: environments,
		Inspector:    &inspector.Inspector{Manager: manager, Environments: environments},
	}
}

// Ensure reconciles desired against the environment's current state and
// reports whether anything changed. Validation and snapshot errors abort
// before any command is issued. A fatal command failure halts the remaining
// plan; the commands already run stay in the verdict.
func (r *Reconciler) Ensure(ctx context.Context, desired DesiredState) (Verdict, error) {
	desired.Normalize()
	if err := desired.Validate(); err != nil {
		return Verdict{}, fmt.Errorf("invalid desired state: %w", err)
	}

	actual, err := r.Inspector.Snapshot(ctx, desired.Environment)
	if err != nil {
		return Verdict{}, err
	}

	plan := BuildPlan(desired, actual)
	slog.Debug("Built reconciliation plan", "environment", desired.Environment, "commands", len(plan))

	var verdict Verdict
	verdict.Output = append(verdict.Output, actual.Warnings...)

	for _, command := range plan {
		result, err := r.execute(ctx, command)
		if err != nil {
			var condaErr *pm.CondaError
			if errors.As(err, &condaErr) && condaErr.Transient() {
				slog.Warn("Ignoring transient conda failure", "command", command.String(), "message", condaErr.Message)
				verdict.CommandsRun = append(verdict.CommandsRun, command)
				verdict.Output = append(verdict.Output, condaErr.Message)
				continue
			}

			verdict.Failure = &CommandFailure{Command: command, Message: err.Error()}
			if errors.As(err, &condaErr) {
				verdict.Failure.ExitCode = condaErr.ExitCode
				verdict.Failure.Message = condaErr.Message
			}
			return verdict, verdict.Failure
		}

		verdict.CommandsRun = append(verdict.CommandsRun, command)
		verdict.Output = append(verdict.Output, result.Actions...)
		if result.Changed {
			verdict.Changed = true
		}
	}

	return verdict, nil
}

// execute dispatches one planned command to conda.
func (r *Reconciler) execute(ctx context.Context, command Command) (pm.Result, error) {
	switch command.Verb {
	case VerbCreateEnvironment:
		return r.Environments.Create(ctx, command.Environment, command.Targets)

	case VerbInstall:
		return r.Manager.InstallPackages(ctx, command.Environment, command.Targets, command.Channels)

	case VerbUpdate:
		if pinned(command.Targets) {
			// An explicit version pin converges by re-installing the exact
			// version, downgrades included.
			return r.Manager.InstallPackages(ctx, command.Environment, command.Targets, command.Channels)
		}
		return r.updateToLatest(ctx, command)

	case VerbRemove:
		if len(command.Targets) == 0 {
			return r.Environments.Remove(ctx, command.Environment)
		}
		return r.Manager.RemovePackages(ctx, command.Environment, targetNames(command.Targets), command.Channels)
	}

	return pm.Result{}, fmt.Errorf("unknown plan verb %q", command.Verb)
}

// updateToLatest probes with a dry run first. When conda reports nothing to
// update the real command is skipped and the verdict stays unchanged, which
// keeps repeated latest runs idempotent.
func (r *Reconciler) updateToLatest(ctx context.Context, command Command) (pm.Result, error) {
	names := targetNames(command.Targets)

	probe, err := r.Manager.UpdatePackages(ctx, command.Environment, names, command.Channels, true)
	if err != nil {
		return probe, err
	}
	if !probe.Changed {
		slog.Debug("All packages already at latest version", "environment", command.Environment)
		return pm.Result{Raw: probe.Raw}, nil
	}

	return r.Manager.UpdatePackages(ctx, command.Environment, names, command.Channels, false)
}

func pinned(targets []pm.PackageSpec) bool {
	for _, pkg := range targets {
		if pkg.Version != "" {
			return true
		}
	}
	return false
}

func targetNames(targets []pm.PackageSpec) []string {
	names := make([]string, 0, len(targets))
	for _, pkg := range targets {
		names = append(names, pkg.Name)
	}
	return names
}

// Package inspector takes point-in-time snapshots of what a conda
// environment actually has installed.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/condaops/condactl/condactl/environmentmanager"
	pm "github.com/condaops/condactl/condactl/packagemanager"
)

// InstalledState is a snapshot of one environment, valid only at the instant
// it was taken. Warnings record list entries that could not be decoded.
type InstalledState struct {
	Environment string           `json:"environment"`
	Exists      bool             `json:"exists"`
	Packages    []pm.PackageSpec `json:"packages"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Find returns the installed spec matching name, if any. Names are matched
// case-insensitively.
func (s InstalledState) Find(name string) (pm.PackageSpec, bool) {
	for _, pkg := range s.Packages {
		if strings.EqualFold(pkg.Name, name) {
			return pkg, true
		}
	}
	return pm.PackageSpec{}, false
}

type Inspector struct {
	Manager      pm.PackageManager
	Environments environmentmanager.EnvironmentManager
}

// Snapshot queries the environment's installed packages. A missing
// environment is a valid starting point and yields an empty snapshot, not an
// error. Unparseable entries are skipped and surfaced as warnings.
func (i *Inspector) Snapshot(ctx context.Context, env string) (InstalledState, error) {
	state := InstalledState{Environment: env}

	exists, err := i.Environments.Exists(ctx, env)
	if err != nil {
		return state, fmt.Errorf("failed to check environment %q: %w", env, err)
	}
	if !exists {
		slog.Debug("Environment does not exist, snapshot is empty", "environment", env)
		return state, nil
	}
	state.Exists = true

	packages, warnings, err := i.Manager.ListPackages(ctx, env)
	if err != nil {
		return state, fmt.Errorf("failed to list packages in %q: %w", env, err)
	}
	for _, warning := range warnings {
		slog.Warn("Partial snapshot", "environment", env, "warning", warning)
	}

	state.Packages = packages
	state.Warnings = warnings
	return state, nil
}

package environmentmanager

import (
	"context"
	"os"
	"strings"

	pm "github.com/condaops/condactl/condactl/packagemanager"
)

// EnvironmentManager handles the lifecycle of named conda environments.
type EnvironmentManager interface {
	Exists(ctx context.Context, env string) (bool, error)
	Create(ctx context.Context, env string, seed []pm.PackageSpec) (pm.Result, error)
	Remove(ctx context.Context, env string) (pm.Result, error)
}

type CondaEnvironmentManager struct {
	Manager pm.PackageManager
}

// Exists reports whether the environment is present. The base environment
// always exists; path-style prefixes are checked on disk, names against the
// environment list.
func (e *CondaEnvironmentManager) Exists(ctx context.Context, env string) (bool, error) {
	if env == "base" {
		return true, nil
	}
	if strings.ContainsRune(env, os.PathSeparator) {
		info, err := os.Stat(env)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return info.IsDir(), nil
	}

	envs, err := e.Manager.ListEnvironments(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range envs {
		if name == env {
			return true, nil
		}
	}
	return false, nil
}

func (e *CondaEnvironmentManager) Create(ctx context.Context, env string, seed []pm.PackageSpec) (pm.Result, error) {
	return e.Manager.CreateEnvironment(ctx, env, seed)
}

func (e *CondaEnvironmentManager) Remove(ctx context.Context, env string) (pm.Result, error) {
	return e.Manager.RemoveEnvironment(ctx, env)
}

package packagemanager

import (
	"context"
	"strings"
)

// PackageSpec identifies a package by name with an optional version
// constraint. An empty Version matches any installed version. Version
// strings are opaque to this layer; conda interprets range syntax itself.
type PackageSpec struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// ParseSpec splits a "name=version" spec string. When the spec carries no
// version of its own, defaultVersion is used.
func ParseSpec(spec, defaultVersion string) PackageSpec {
	name, version, found := strings.Cut(spec, "=")
	if !found {
		return PackageSpec{Name: spec, Version: defaultVersion}
	}
	// Tolerate "name==1.2" style pins.
	return PackageSpec{Name: name, Version: strings.TrimLeft(version, "=")}
}

func (p PackageSpec) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "=" + p.Version
}

// SameName reports whether two specs refer to the same package. Conda
// package names are matched case-insensitively.
func (p PackageSpec) SameName(other PackageSpec) bool {
	return strings.EqualFold(p.Name, other.Name)
}

// SatisfiedBy reports whether the installed spec satisfies this one. The
// requested version is matched only as specifically as it was given: a
// request for 3.9 is satisfied by an installed 3.9.12.
func (p PackageSpec) SatisfiedBy(installed PackageSpec) bool {
	if !p.SameName(installed) {
		return false
	}
	if p.Version == "" {
		return true
	}
	want := strings.Split(p.Version, ".")
	have := strings.Split(installed.Version, ".")
	if len(have) < len(want) {
		return false
	}
	for i := range want {
		if want[i] != have[i] {
			return false
		}
	}
	return true
}

// PackageManager is the conda surface the inspector and reconciler consume.
type PackageManager interface {
	ListEnvironments(ctx context.Context) ([]string, error)
	ListPackages(ctx context.Context, env string) ([]PackageSpec, []string, error)
	CreateEnvironment(ctx context.Context, env string, seed []PackageSpec) (Result, error)
	RemoveEnvironment(ctx context.Context, env string) (Result, error)
	InstallPackages(ctx context.Context, env string, packages []PackageSpec, channels []string) (Result, error)
	RemovePackages(ctx context.Context, env string, names []string, channels []string) (Result, error)
	UpdatePackages(ctx context.Context, env string, names []string, channels []string, dryRun bool) (Result, error)
}

// Result is the interpreted outcome of a single conda invocation.
type Result struct {
	Changed  bool     // conda reported actions taken (or planned, for dry runs)
	Actions  []string // rendered action summaries, in conda's order
	Raw      string   // raw stdout
	ExitCode int
}

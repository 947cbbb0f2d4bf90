package reconciler

import (
	"fmt"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/condaops/condactl/condactl/inspector"
	pm "github.com/condaops/condactl/condactl/packagemanager"
)

// State is the declared lifecycle intent for a set of packages.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
	StateLatest  State = "latest"
)

// DefaultEnvironment is assumed when the caller names none.
const DefaultEnvironment = "base"

func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePresent, StateAbsent, StateLatest:
		return State(s), nil
	case "":
		return StatePresent, nil
	}
	return "", fmt.Errorf("invalid state %q: must be one of present, absent, latest", s)
}

// DesiredState is the caller's declared intent for one environment.
type DesiredState struct {
	Environment string
	Packages    []pm.PackageSpec
	State       State
	Channels    []string
	Executable  string
}

// Normalize fills in the defaulted fields.
func (d *DesiredState) Normalize() {
	if d.Environment == "" {
		d.Environment = DefaultEnvironment
	}
	if d.State == "" {
		d.State = StatePresent
	}
	if d.Executable == "" {
		d.Executable = pm.DefaultExecutable
	}
}

// Validate rejects malformed desired state before any command is issued.
// All violations are reported, not just the first.
func (d DesiredState) Validate() error {
	var result *multierror.Error

	if d.Environment == "" {
		result = multierror.Append(result, fmt.Errorf("environment name must not be empty"))
	}
	if _, err := ParseState(string(d.State)); err != nil {
		result = multierror.Append(result, err)
	}

	seen := map[string]bool{}
	for _, pkg := range d.Packages {
		if pkg.Name == "" {
			result = multierror.Append(result, fmt.Errorf("package name must not be empty"))
			continue
		}
		key := strings.ToLower(pkg.Name)
		if seen[key] {
			result = multierror.Append(result, fmt.Errorf("duplicate package %q", pkg.Name))
		}
		seen[key] = true
	}

	if len(d.Packages) == 0 && (d.State == StatePresent || d.State == StateLatest) {
		result = multierror.Append(result, fmt.Errorf("state %s requires at least one package", d.State))
	}

	return result.ErrorOrNil()
}

// Verb names a conda operation in a plan.
type Verb string

const (
	VerbCreateEnvironment Verb = "create-environment"
	VerbInstall           Verb = "install"
	VerbUpdate            Verb = "update"
	VerbRemove            Verb = "remove"
)

// Command is one conda invocation in a plan. A remove Command with no
// Targets removes the whole environment.
type Command struct {
	Verb        Verb             `json:"verb"`
	Targets     []pm.PackageSpec `json:"targets,omitempty"`
	Environment string           `json:"environment"`
	Channels    []string         `json:"channels,omitempty"`
}

func (c Command) String() string {
	names := make([]string, 0, len(c.Targets))
	for _, pkg := range c.Targets {
		names = append(names, pkg.String())
	}
	if len(names) == 0 {
		return fmt.Sprintf("%s %s", c.Verb, c.Environment)
	}
	return fmt.Sprintf("%s %s in %s", c.Verb, strings.Join(names, " "), c.Environment)
}

// Plan is the ordered set of commands needed to converge. An empty plan
// means the environment already matches the desired state.
type Plan []Command

// interpreterName is the package that seeds a fresh environment when the
// desired set names it explicitly.
const interpreterName = "python"

// BuildPlan diffs desired against actual and produces the minimal command
// sequence. Packages needing the same verb are batched into one command.
// BuildPlan issues no commands itself.
func BuildPlan(desired DesiredState, actual inspector.InstalledState) Plan {
	var plan Plan

	packages := desired.Packages

	if !actual.Exists {
		if desired.State == StateAbsent {
			// Nothing to remove from an environment that is not there.
			return nil
		}

		// The interpreter, when requested, rides along on the create so the
		// environment comes up at the pinned runtime version.
		var seed, rest []pm.PackageSpec
		for _, pkg := range packages {
			if strings.EqualFold(pkg.Name, interpreterName) {
				seed = append(seed, pkg)
			} else {
				rest = append(rest, pkg)
			}
		}
		plan = append(plan, Command{
			Verb:        VerbCreateEnvironment,
			Targets:     seed,
			Environment: desired.Environment,
			Channels:    desired.Channels,
		})
		packages = rest
	}

	switch desired.State {
	case StatePresent:
		var missing, mismatched []pm.PackageSpec
		for _, pkg := range packages {
			installed, ok := actual.Find(pkg.Name)
			switch {
			case !ok:
				missing = append(missing, pkg)
			case pkg.Version != "" && !pkg.SatisfiedBy(installed):
				mismatched = append(mismatched, pkg)
			}
		}
		if len(missing) > 0 {
			plan = append(plan, Command{
				Verb:        VerbInstall,
				Targets:     missing,
				Environment: desired.Environment,
				Channels:    desired.Channels,
			})
		}
		if len(mismatched) > 0 {
			plan = append(plan, Command{
				Verb:        VerbUpdate,
				Targets:     mismatched,
				Environment: desired.Environment,
				Channels:    desired.Channels,
			})
		}

	case StateLatest:
		var missing, present []pm.PackageSpec
		for _, pkg := range packages {
			if _, ok := actual.Find(pkg.Name); ok {
				// Version dropped: latest means newest, not the pin.
				present = append(present, pm.PackageSpec{Name: pkg.Name})
			} else {
				missing = append(missing, pkg)
			}
		}
		if len(missing) > 0 {
			plan = append(plan, Command{
				Verb:        VerbInstall,
				Targets:     missing,
				Environment: desired.Environment,
				Channels:    desired.Channels,
			})
		}
		if len(present) > 0 {
			plan = append(plan, Command{
				Verb:        VerbUpdate,
				Targets:     present,
				Environment: desired.Environment,
				Channels:    desired.Channels,
			})
		}

	case StateAbsent:
		if len(desired.Packages) == 0 {
			// Declared absent with no package list: the whole environment goes.
			plan = append(plan, Command{
				Verb:        VerbRemove,
				Environment: desired.Environment,
			})
			break
		}
		var installed []pm.PackageSpec
		for _, pkg := range desired.Packages {
			if _, ok := actual.Find(pkg.Name); ok {
				installed = append(installed, pm.PackageSpec{Name: pkg.Name})
			}
		}
		if len(installed) > 0 {
			plan = append(plan, Command{
				Verb:        VerbRemove,
				Targets:     installed,
				Environment: desired.Environment,
				Channels:    desired.Channels,
			})
		}
	}

	return plan
}

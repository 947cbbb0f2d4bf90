package main

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	pm "github.com/condaops/condactl/condactl/packagemanager"
	"github.com/condaops/condactl/condactl/reconciler"
)

// stringList accepts either a single scalar or a sequence, so a task can say
// `name: numpy` or `name: [numpy, scipy]`.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = stringList{single}
		return nil
	}

	var many []string
	if err := value.Decode(&many); err != nil {
		return err
	}
	*s = stringList(many)
	return nil
}

// taskSpec is one declarative reconciliation request from a task file.
type taskSpec struct {
	Name        stringList `yaml:"name"`
	Version     string     `yaml:"version"`
	Environment string     `yaml:"environment"`
	State       string     `yaml:"state"`
	Channels    []string   `yaml:"channels"`
	Executable  string     `yaml:"executable"`
}

type taskFile struct {
	Tasks []taskSpec `yaml:"tasks"`
}

func readTasksFromFile(path string) ([]taskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc taskFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s declares no tasks", path)
	}
	return doc.Tasks, nil
}

// taskDefaults are fallback values applied to tasks that leave the
// corresponding field empty.
type taskDefaults struct {
	Environment string
	Executable  string
	Channels    []string
}

func readDefaultsFromFile(path string) (taskDefaults, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return taskDefaults{}, err
	}

	section := cfg.Section("defaults")
	return taskDefaults{
		Environment: section.Key("environment").String(),
		Executable:  section.Key("executable").String(),
		Channels:    section.Key("channels").Strings(","),
	}, nil
}

// desiredState normalizes a task into the reconciler's input, resolving
// name=version spec strings and applying defaults.
func (t taskSpec) desiredState(defaults taskDefaults) (reconciler.DesiredState, error) {
	state, err := reconciler.ParseState(t.State)
	if err != nil {
		return reconciler.DesiredState{}, err
	}

	packages := make([]pm.PackageSpec, 0, len(t.Name))
	for _, name := range t.Name {
		packages = append(packages, pm.ParseSpec(name, t.Version))
	}

	desired := reconciler.DesiredState{
		Environment: t.Environment,
		Packages:    packages,
		State:       state,
		Channels:    t.Channels,
		Executable:  t.Executable,
	}
	if desired.Environment == "" {
		desired.Environment = defaults.Environment
	}
	if desired.Executable == "" {
		desired.Executable = defaults.Executable
	}
	if len(desired.Channels) == 0 {
		desired.Channels = defaults.Channels
	}
	desired.Normalize()
	return desired, nil
}

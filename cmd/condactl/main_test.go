package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	pm "github.com/condaops/condactl/condactl/packagemanager"
	"github.com/condaops/condactl/condactl/reconciler"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestReadDefaultsFromFile(t *testing.T) {
	path := writeTempFile(t, "defaults.ini", `[defaults]
environment = science
executable = /opt/conda/bin/conda
channels = conda-forge,bioconda`)

	defaults, err := readDefaultsFromFile(path)
	if err != nil {
		t.Fatalf("Error reading defaults file: %v", err)
	}

	expected := taskDefaults{
		Environment: "science",
		Executable:  "/opt/conda/bin/conda",
		Channels:    []string{"conda-forge", "bioconda"},
	}
	if !reflect.DeepEqual(defaults, expected) {
		t.Errorf("Expected %v, got %v", expected, defaults)
	}
}

func TestReadTasksFromFile(t *testing.T) {
	path := writeTempFile(t, "tasks.yaml", `tasks:
  - name: [numpy=1.21, scipy]
    environment: science
    state: present
    channels: [conda-forge]
  - name: flask
    version: "2.0"
    state: latest`)

	tasks, err := readTasksFromFile(path)
	if err != nil {
		t.Fatalf("Error reading task file: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}

	if !reflect.DeepEqual([]string(tasks[0].Name), []string{"numpy=1.21", "scipy"}) {
		t.Errorf("Expected name list, got %v", tasks[0].Name)
	}
	if !reflect.DeepEqual([]string(tasks[1].Name), []string{"flask"}) {
		t.Errorf("Expected scalar name to normalize to a list, got %v", tasks[1].Name)
	}
	if tasks[1].Version != "2.0" {
		t.Errorf("Expected version 2.0, got %q", tasks[1].Version)
	}
}

func TestReadTasksFromFileEmpty(t *testing.T) {
	path := writeTempFile(t, "tasks.yaml", "tasks: []")

	if _, err := readTasksFromFile(path); err == nil {
		t.Errorf("Expected an error for a task file with no tasks")
	}
}

func TestDesiredState(t *testing.T) {
	task := taskSpec{
		Name:    stringList{"numpy=1.21", "scipy"},
		Version: "1.0",
		State:   "present",
	}
	defaults := taskDefaults{
		Environment: "science",
		Executable:  "/opt/conda/bin/conda",
		Channels:    []string{"conda-forge"},
	}

	desired, err := task.desiredState(defaults)
	if err != nil {
		t.Fatalf("desiredState failed: %v", err)
	}

	expected := reconciler.DesiredState{
		Environment: "science",
		Packages: []pm.PackageSpec{
			{Name: "numpy", Version: "1.21"},
			{Name: "scipy", Version: "1.0"},
		},
		State:      reconciler.StatePresent,
		Channels:   []string{"conda-forge"},
		Executable: "/opt/conda/bin/conda",
	}
	if !reflect.DeepEqual(desired, expected) {
		t.Errorf("Expected %+v, got %+v", expected, desired)
	}
}

func TestDesiredStateDefaults(t *testing.T) {
	task := taskSpec{Name: stringList{"numpy"}}

	desired, err := task.desiredState(taskDefaults{})
	if err != nil {
		t.Fatalf("desiredState failed: %v", err)
	}

	if desired.Environment != reconciler.DefaultEnvironment {
		t.Errorf("Expected default environment, got %q", desired.Environment)
	}
	if desired.State != reconciler.StatePresent {
		t.Errorf("Expected present state, got %q", desired.State)
	}
	if desired.Executable != pm.DefaultExecutable {
		t.Errorf("Expected default executable, got %q", desired.Executable)
	}
}

func TestDesiredStateInvalidState(t *testing.T) {
	task := taskSpec{Name: stringList{"numpy"}, State: "installed"}

	if _, err := task.desiredState(taskDefaults{}); err == nil {
		t.Errorf("Expected an error for an invalid state")
	}
}

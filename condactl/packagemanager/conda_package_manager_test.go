package packagemanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	cm "github.com/condaops/condactl/condactl/commandmanager"
)

// MockCommandManager replays canned results in call order and records every
// invocation for argv assertions.
type MockCommandManager struct {
	results []cm.CommandResult
	errs    []error
	calls   []cm.CommandConfig
}

func (m *MockCommandManager) Run(_ context.Context, config cm.CommandConfig) (cm.CommandResult, error) {
	i := len(m.calls)
	m.calls = append(m.calls, config)

	var result cm.CommandResult
	var err error
	if i < len(m.results) {
		result = m.results[i]
	}
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return result, err
}

func newManager(results ...cm.CommandResult) (*CondaManager, *MockCommandManager) {
	mock := &MockCommandManager{results: results}
	return &CondaManager{CommandManager: mock, Executable: "conda"}, mock
}

func TestListEnvironments(t *testing.T) {
	manager, mock := newManager(cm.CommandResult{
		STDOUT: `{"envs": ["/opt/conda", "/opt/conda/envs/science", "/opt/conda/envs/py37"]}`,
	})

	envs, err := manager.ListEnvironments(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"conda", "science", "py37"}, envs)
	assert.Equal(t, []string{"env", "list", "--json"}, mock.calls[0].Args)
}

func TestListPackages(t *testing.T) {
	t.Run("Parses name and version", func(t *testing.T) {
		manager, mock := newManager(cm.CommandResult{
			STDOUT: `[{"name": "numpy", "version": "1.21.0"}, {"name": "python", "version": "3.9.12"}]`,
		})

		packages, warnings, err := manager.ListPackages(context.Background(), "science")
		assert.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, []PackageSpec{
			{Name: "numpy", Version: "1.21.0"},
			{Name: "python", Version: "3.9.12"},
		}, packages)
		assert.Equal(t, []string{"list", "--name", "science", "--json"}, mock.calls[0].Args)
	})

	t.Run("Malformed entry is skipped with a warning", func(t *testing.T) {
		manager, _ := newManager(cm.CommandResult{
			STDOUT: `[{"name": "numpy", "version": "1.21.0"}, {"version": "oops"}]`,
		})

		packages, warnings, err := manager.ListPackages(context.Background(), "science")
		assert.NoError(t, err)
		assert.Len(t, packages, 1)
		assert.Len(t, warnings, 1)
	})

	t.Run("Executor failure is fatal", func(t *testing.T) {
		mock := &MockCommandManager{errs: []error{errors.New("conda: no such file")}}
		manager := &CondaManager{CommandManager: mock}

		_, _, err := manager.ListPackages(context.Background(), "science")
		assert.Error(t, err)
	})
}

func TestInstallPackages(t *testing.T) {
	t.Run("Builds one batched invocation", func(t *testing.T) {
		manager, mock := newManager(cm.CommandResult{
			STDOUT: `{"actions": {"LINK": [{"name": "numpy", "version": "1.21.0"}, {"name": "scipy", "version": "1.7.1"}]}}`,
		})

		result, err := manager.InstallPackages(context.Background(), "science",
			[]PackageSpec{{Name: "numpy", Version: "1.21.0"}, {Name: "scipy"}},
			[]string{"conda-forge", "bioconda"})
		assert.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Equal(t, []string{"LINK numpy=1.21.0", "LINK scipy=1.7.1"}, result.Actions)

		assert.Equal(t, "conda", mock.calls[0].Command)
		assert.Equal(t, []string{
			"install", "--json", "--quiet", "--yes",
			"--channel", "conda-forge", "--channel", "bioconda",
			"numpy=1.21.0", "scipy", "--name", "science",
		}, mock.calls[0].Args)
	})

	t.Run("Already satisfied reports no change", func(t *testing.T) {
		manager, _ := newManager(cm.CommandResult{
			STDOUT: `{"message": "All requested packages already installed.", "success": true}`,
		})

		result, err := manager.InstallPackages(context.Background(), "science",
			[]PackageSpec{{Name: "numpy"}}, nil)
		assert.NoError(t, err)
		assert.False(t, result.Changed)
	})

	t.Run("Non-zero exit surfaces the conda error payload", func(t *testing.T) {
		manager, _ := newManager(cm.CommandResult{
			STDOUT:   `{"error": "PackagesNotFoundError: nosuchpkg", "exception_name": "PackagesNotFoundError"}`,
			ExitCode: 1,
		})

		_, err := manager.InstallPackages(context.Background(), "science",
			[]PackageSpec{{Name: "nosuchpkg"}}, nil)

		var condaErr *CondaError
		assert.ErrorAs(t, err, &condaErr)
		assert.Equal(t, 1, condaErr.ExitCode)
		assert.Equal(t, "PackagesNotFoundError: nosuchpkg", condaErr.Message)
		assert.Equal(t, "PackagesNotFoundError", condaErr.ExceptionName)
		assert.False(t, condaErr.Transient())
	})

	t.Run("Unparseable failure output falls back to stderr", func(t *testing.T) {
		manager, _ := newManager(cm.CommandResult{
			STDOUT:   "not json",
			STDERR:   "segfault",
			ExitCode: 139,
		})

		_, err := manager.InstallPackages(context.Background(), "science",
			[]PackageSpec{{Name: "numpy"}}, nil)

		var condaErr *CondaError
		assert.ErrorAs(t, err, &condaErr)
		assert.Equal(t, 139, condaErr.ExitCode)
		assert.Equal(t, "segfault", condaErr.Message)
	})
}

func TestRemovePackages(t *testing.T) {
	manager, mock := newManager(cm.CommandResult{
		STDOUT: `{"actions": {"UNLINK": [{"name": "numpy", "version": "1.21.0"}]}}`,
	})

	result, err := manager.RemovePackages(context.Background(), "science", []string{"numpy"}, nil)
	assert.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, []string{
		"remove", "--json", "--quiet", "--yes", "numpy", "--name", "science",
	}, mock.calls[0].Args)
}

func TestUpdatePackages(t *testing.T) {
	t.Run("Dry run appends the flag", func(t *testing.T) {
		manager, mock := newManager(cm.CommandResult{STDOUT: `{}`})

		result, err := manager.UpdatePackages(context.Background(), "science", []string{"numpy"}, nil, true)
		assert.NoError(t, err)
		assert.False(t, result.Changed)
		assert.Equal(t, "--dry-run", mock.calls[0].Args[len(mock.calls[0].Args)-1])
	})
}

func TestEnvironmentCommands(t *testing.T) {
	t.Run("Create always counts as a change", func(t *testing.T) {
		manager, mock := newManager(cm.CommandResult{STDOUT: `{"success": true}`})

		result, err := manager.CreateEnvironment(context.Background(), "py37",
			[]PackageSpec{{Name: "python", Version: "3.7"}})
		assert.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Equal(t, []string{
			"create", "--json", "--quiet", "--yes", "--name", "py37", "python=3.7",
		}, mock.calls[0].Args)
	})

	t.Run("Remove passes --all", func(t *testing.T) {
		manager, mock := newManager(cm.CommandResult{STDOUT: `{"success": true}`})

		result, err := manager.RemoveEnvironment(context.Background(), "py37")
		assert.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Contains(t, mock.calls[0].Args, "--all")
	})

	t.Run("Path-style environment uses --prefix", func(t *testing.T) {
		manager, mock := newManager(cm.CommandResult{STDOUT: `{"success": true}`})

		_, err := manager.CreateEnvironment(context.Background(), "/opt/envs/py37", nil)
		assert.NoError(t, err)
		assert.Contains(t, mock.calls[0].Args, "--prefix")
	})
}

func TestCondaErrorTransient(t *testing.T) {
	transient := []string{
		"All requested packages already installed.",
		"Nothing to do.",
		"Could not locate channel somewhere/noarch",
		"CondaHTTPError: HTTP 000 CONNECTION FAILED",
	}
	for _, msg := range transient {
		err := &CondaError{Message: msg}
		assert.True(t, err.Transient(), msg)
	}

	fatal := &CondaError{Message: "PackagesNotFoundError: nosuchpkg"}
	assert.False(t, fatal.Transient())
}

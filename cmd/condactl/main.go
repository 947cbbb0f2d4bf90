package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/condaops/condactl/condactl/reconciler"
	"github.com/condaops/condactl/condactl/target"
	"github.com/condaops/condactl/logger"
)

type flags struct {
	Channels           channelsValue
	Debug              bool
	DefaultsFilePath   string
	Environment        string
	Executable         string
	Hostname           string
	KeyPassPrompt      bool
	LogFileName        string
	Names              namesValue
	PasswordPrompt     bool
	Snapshot           bool
	State              string
	SudoPasswordPrompt bool
	TaskFilePath       string
	Username           string
	Version            string
}

type namesValue []string

func (n *namesValue) String() string {
	return strings.Join(*n, ",")
}

func (n *namesValue) Set(value string) error {
	*n = append(*n, value)
	return nil
}

type channelsValue []string

func (c *channelsValue) String() string {
	return strings.Join(*c, ",")
}

func (c *channelsValue) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func parseFlags() *flags {
	f := &flags{}
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	flag.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for the SSH key passphrase")
	flag.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for the SSH password")
	flag.BoolVar(&f.Snapshot, "snapshot", false, "Print the environment's installed packages and exit")
	flag.BoolVar(&f.SudoPasswordPrompt, "sudo-password", false, "Prompt for the sudo password")
	flag.StringVar(&f.DefaultsFilePath, "defaults", "", "Path to INI file with default environment, executable and channels")
	flag.StringVar(&f.Environment, "environment", "", "Conda environment to reconcile (defaults to base)")
	flag.StringVar(&f.Executable, "executable", "", "Path to the conda executable (defaults to conda on PATH)")
	flag.StringVar(&f.Hostname, "hostname", "", "Host to reconcile (defaults to localhost)")
	flag.StringVar(&f.LogFileName, "log", "condactl.log", "Log file name")
	flag.StringVar(&f.State, "state", "", "Desired package state: present, absent or latest")
	flag.StringVar(&f.TaskFilePath, "task", "", "Path to YAML task file with desired states")
	flag.StringVar(&f.Username, "username", "", "Username for the SSH connection")
	flag.StringVar(&f.Version, "version", "", "Default version pin for packages without one")
	flag.Var(&f.Channels, "channel", "Channel to search, in priority order (repeatable)")
	flag.Var(&f.Names, "name", "Package spec to reconcile, optionally name=version (repeatable)")

	flag.Parse()

	return f
}

func configureFileLog(f *flags) (*logrus.Logger, error) {
	file, err := os.OpenFile(f.LogFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	fileLog := logrus.New()
	fileLog.SetOutput(file)
	if f.Debug {
		fileLog.SetLevel(logrus.DebugLevel)
	} else {
		fileLog.SetLevel(logrus.InfoLevel)
	}
	return fileLog, nil
}

func promptPassword(prompt string, log logger.Logger) string {
	fmt.Print(prompt)
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Error("Failed to read password", "error", err)
		return ""
	}
	return string(passwordBytes)
}

func buildTargetOptions(f *flags, log logger.Logger) []target.TargetOption {
	var options []target.TargetOption
	if f.Username != "" {
		options = append(options, target.WithUser(f.Username))
	}
	if f.PasswordPrompt {
		if password := promptPassword("Enter the password: ", log); password != "" {
			options = append(options, target.WithPassword(password))
		}
	}
	if f.KeyPassPrompt {
		if keyPass := promptPassword("Enter the key passphrase: ", log); keyPass != "" {
			options = append(options, target.WithKeyPassphrase(keyPass))
		}
	}
	if f.SudoPasswordPrompt {
		if sudoPassword := promptPassword("Enter the sudo password: ", log); sudoPassword != "" {
			options = append(options, target.WithSudoPassword(sudoPassword))
		}
	}
	options = append(options, target.WithSSHClient(&target.RealSSHClient{}))
	return options
}

// collectTasks resolves the declarative input: a task file when given,
// otherwise a single task assembled from flags.
func collectTasks(f *flags) ([]taskSpec, error) {
	if f.TaskFilePath != "" {
		return readTasksFromFile(f.TaskFilePath)
	}

	if len(f.Names) == 0 && !f.Snapshot {
		return nil, fmt.Errorf("no task file and no -name flags given")
	}
	return []taskSpec{{
		Name:        stringList(f.Names),
		Version:     f.Version,
		Environment: f.Environment,
		State:       f.State,
		Channels:    f.Channels,
		Executable:  f.Executable,
	}}, nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func snapshotOnly(ctx context.Context, t *target.Target, desired reconciler.DesiredState) error {
	rec := reconciler.New(t.CommandManager, desired.Executable)
	state, err := rec.Inspector.Snapshot(ctx, desired.Environment)
	if err != nil {
		return err
	}
	return printJSON(state)
}

func runTask(ctx context.Context, t *target.Target, desired reconciler.DesiredState, fileLog *logrus.Logger) error {
	rec := reconciler.New(t.CommandManager, desired.Executable)
	verdict, err := rec.Ensure(ctx, desired)

	if printErr := printJSON(verdict); printErr != nil {
		return printErr
	}

	entry := fileLog.WithFields(logrus.Fields{
		"host":        t.Hostname,
		"environment": desired.Environment,
		"state":       desired.State,
		"changed":     verdict.Changed,
		"commands":    len(verdict.CommandsRun),
	})
	if err != nil {
		entry.WithError(err).Error("reconciliation failed")
		return err
	}
	entry.Info("reconciliation complete")
	return nil
}

func main() {
	f := parseFlags()
	logger.Configure(f.Debug)
	log := logger.New()

	fileLog, err := configureFileLog(f)
	if err != nil {
		logrus.Fatal(err)
	}

	defaults := taskDefaults{}
	if f.DefaultsFilePath != "" {
		defaults, err = readDefaultsFromFile(f.DefaultsFilePath)
		if err != nil {
			log.Error("Failed to read defaults file", "path", f.DefaultsFilePath, "error", err)
			os.Exit(1)
		}
	}

	tasks, err := collectTasks(f)
	if err != nil {
		log.Error("Invalid invocation", "error", err)
		os.Exit(1)
	}

	options := buildTargetOptions(f, log)
	host, err := target.NewTarget(f.Hostname, options...)
	if err != nil {
		log.Error("Failed to set up target host", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var result *multierror.Error
	for _, task := range tasks {
		desired, err := task.desiredState(defaults)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		if f.Snapshot {
			if err := snapshotOnly(ctx, host, desired); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}

		if err := runTask(ctx, host, desired, fileLog); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if result.ErrorOrNil() != nil {
		for _, err := range result.Errors {
			log.Error("Task failed", "error", err)
		}
		os.Exit(1)
	}
}

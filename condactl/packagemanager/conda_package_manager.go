package packagemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cm "github.com/condaops/condactl/condactl/commandmanager"
)

// DefaultExecutable is the binary resolved from PATH when the caller does
// not name one.
const DefaultExecutable = "conda"

// CondaError is a conda invocation that exited non-zero.
type CondaError struct {
	Command       string
	ExitCode      int
	Message       string
	ExceptionName string
}

func (e *CondaError) Error() string {
	return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, e.Message)
}

// Transient reports whether the failure is a benign or retriable condition
// rather than a real reconciliation failure. Channel lookup failures are
// treated as transient; the requested state may still converge from the
// remaining channels.
func (e *CondaError) Transient() bool {
	msg := strings.ToLower(e.Message)
	for _, marker := range []string{
		"all requested packages already installed",
		"nothing to do",
		"could not locate channel",
		"condahttperror",
		"unavailableinvalidchannel",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// CondaManager drives a conda executable through a CommandManager.
type CondaManager struct {
	CommandManager cm.CommandManager
	Executable     string
}

func (c *CondaManager) executable() string {
	if c.Executable == "" {
		return DefaultExecutable
	}
	return c.Executable
}

// envArgs selects --prefix for path-style environments and --name otherwise.
func envArgs(env string) []string {
	if env == "" {
		return nil
	}
	if strings.ContainsRune(env, os.PathSeparator) {
		return []string{"--prefix", env}
	}
	return []string{"--name", env}
}

func channelArgs(channels []string) []string {
	var args []string
	for _, channel := range channels {
		args = append(args, "--channel", channel)
	}
	return args
}

// runJSON invokes `conda <subcmd> --json ...` and decodes the JSON payload.
// The payload and Result are returned even on non-zero exit so callers can
// inspect the failure; the error is then a *CondaError.
func (c *CondaManager) runJSON(ctx context.Context, subcmd []string, args ...string) (map[string]json.RawMessage, cm.CommandResult, error) {
	argv := append([]string{}, subcmd...)
	argv = append(argv, "--json")
	argv = append(argv, args...)

	slog.Debug("Running conda", "executable", c.executable(), "args", argv)

	result, err := c.CommandManager.Run(ctx, cm.CommandConfig{
		Command: c.executable(),
		Args:    argv,
	})
	if err != nil {
		return nil, result, fmt.Errorf("failed to run %s: %w", c.executable(), err)
	}

	payload := map[string]json.RawMessage{}
	if decodeErr := json.Unmarshal([]byte(result.STDOUT), &payload); decodeErr != nil {
		payload = nil
	}

	if result.ExitCode != 0 {
		condaErr := &CondaError{
			Command:  c.executable() + " " + strings.Join(argv, " "),
			ExitCode: result.ExitCode,
			Message:  strings.TrimSpace(result.STDERR),
		}
		if payload != nil {
			if msg := rawString(payload["error"]); msg != "" {
				condaErr.Message = msg
			} else if msg := rawString(payload["message"]); msg != "" {
				condaErr.Message = msg
			}
			condaErr.ExceptionName = rawString(payload["exception_name"])
		}
		if condaErr.Message == "" {
			condaErr.Message = "unable to parse error output"
		}
		return payload, result, condaErr
	}

	if payload == nil {
		return nil, result, fmt.Errorf("failed to parse conda output: %q", strings.TrimSpace(result.STDOUT))
	}
	return payload, result, nil
}

// runPackageCmd wraps runJSON for the mutating sub-commands, adding the
// flags every package operation carries and interpreting the actions report.
func (c *CondaManager) runPackageCmd(ctx context.Context, subcmd []string, channels []string, args ...string) (Result, error) {
	full := []string{"--quiet", "--yes"}
	full = append(full, channelArgs(channels)...)
	full = append(full, args...)

	payload, cmdResult, err := c.runJSON(ctx, subcmd, full...)
	res := Result{
		Raw:      cmdResult.STDOUT,
		ExitCode: cmdResult.ExitCode,
	}
	if err != nil {
		return res, err
	}

	res.Actions = decodeActions(payload["actions"])
	res.Changed = len(res.Actions) > 0
	return res, nil
}

func (c *CondaManager) ListEnvironments(ctx context.Context) ([]string, error) {
	payload, _, err := c.runJSON(ctx, []string{"env", "list"})
	if err != nil {
		return nil, err
	}

	var paths []string
	if err := json.Unmarshal(payload["envs"], &paths); err != nil {
		return nil, fmt.Errorf("failed to parse environment list: %w", err)
	}

	// conda reports prefixes; callers match on names.
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names, nil
}

// ListPackages returns the packages installed in env along with warnings for
// entries that could not be decoded. The snapshot is best-effort.
func (c *CondaManager) ListPackages(ctx context.Context, env string) ([]PackageSpec, []string, error) {
	argv := append([]string{}, envArgs(env)...)
	argv = append(argv, "--json")

	result, err := c.CommandManager.Run(ctx, cm.CommandConfig{
		Command: c.executable(),
		Args:    append([]string{"list"}, argv...),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run %s list: %w", c.executable(), err)
	}
	if result.ExitCode != 0 {
		return nil, nil, &CondaError{
			Command:  c.executable() + " list",
			ExitCode: result.ExitCode,
			Message:  strings.TrimSpace(result.STDERR),
		}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(result.STDOUT), &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse package list: %w", err)
	}

	var packages []PackageSpec
	var warnings []string
	for i, entry := range entries {
		var pkg PackageSpec
		if err := json.Unmarshal(entry, &pkg); err != nil || pkg.Name == "" {
			warnings = append(warnings, fmt.Sprintf("skipping unparseable package entry %d: %s", i, truncate(string(entry), 80)))
			continue
		}
		packages = append(packages, pkg)
	}
	return packages, warnings, nil
}

func (c *CondaManager) CreateEnvironment(ctx context.Context, env string, seed []PackageSpec) (Result, error) {
	args := append([]string{"--quiet", "--yes"}, envArgs(env)...)
	for _, pkg := range seed {
		args = append(args, pkg.String())
	}

	payload, cmdResult, err := c.runJSON(ctx, []string{"create"}, args...)
	res := Result{Raw: cmdResult.STDOUT, ExitCode: cmdResult.ExitCode}
	if err != nil {
		return res, err
	}

	res.Actions = decodeActions(payload["actions"])
	res.Changed = true
	return res, nil
}

func (c *CondaManager) RemoveEnvironment(ctx context.Context, env string) (Result, error) {
	args := append([]string{"--quiet", "--yes"}, envArgs(env)...)
	args = append(args, "--all")

	_, cmdResult, err := c.runJSON(ctx, []string{"remove"}, args...)
	res := Result{Raw: cmdResult.STDOUT, ExitCode: cmdResult.ExitCode}
	if err != nil {
		return res, err
	}

	res.Changed = true
	return res, nil
}

func (c *CondaManager) InstallPackages(ctx context.Context, env string, packages []PackageSpec, channels []string) (Result, error) {
	var args []string
	for _, pkg := range packages {
		args = append(args, pkg.String())
	}
	args = append(args, envArgs(env)...)
	return c.runPackageCmd(ctx, []string{"install"}, channels, args...)
}

func (c *CondaManager) RemovePackages(ctx context.Context, env string, names []string, channels []string) (Result, error) {
	args := append([]string{}, names...)
	args = append(args, envArgs(env)...)
	return c.runPackageCmd(ctx, []string{"remove"}, channels, args...)
}

func (c *CondaManager) UpdatePackages(ctx context.Context, env string, names []string, channels []string, dryRun bool) (Result, error) {
	args := append([]string{}, names...)
	args = append(args, envArgs(env)...)
	if dryRun {
		args = append(args, "--dry-run")
	}
	return c.runPackageCmd(ctx, []string{"update"}, channels, args...)
}

// decodeActions renders conda's actions report into summary strings. The
// shape varies across conda versions: a map of FETCH/LINK/UNLINK lists whose
// entries are either dist strings or package records, or occasionally a bare
// list.
func decodeActions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		var actions []string
		for _, verb := range []string{"FETCH", "LINK", "UNLINK"} {
			entries, ok := asMap[verb]
			if !ok {
				continue
			}
			for _, entry := range decodeActionEntries(entries) {
				actions = append(actions, verb+" "+entry)
			}
		}
		return actions
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		var actions []string
		for _, item := range asList {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				actions = append(actions, s)
				continue
			}
			actions = append(actions, decodeActions(item)...)
		}
		return actions
	}
	return nil
}

func decodeActionEntries(raw json.RawMessage) []string {
	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil {
		return asStrings
	}

	var asRecords []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &asRecords); err == nil {
		entries := make([]string, 0, len(asRecords))
		for _, r := range asRecords {
			entries = append(entries, PackageSpec{Name: r.Name, Version: r.Version}.String())
		}
		return entries
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

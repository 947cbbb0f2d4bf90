// Package target models the machine a reconciliation runs against, local or
// reachable over SSH.
package target

import (
	"fmt"
	"regexp"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/condaops/condactl/common"
	cm "github.com/condaops/condactl/condactl/commandmanager"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Target is a host conda commands are dispatched to.
type Target struct {
	Hostname string
	common.Credentials
	SSHClient      cm.SSHDialer
	CommandManager cm.CommandManager
}

type RealSSHClient struct{}

func (c *RealSSHClient) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	config.Timeout = timeout
	return ssh.Dial(network, addr, config)
}

type TargetOption func(*Target)

// WithUser returns a TargetOption that sets the SSH user for a Target.
func WithUser(user string) TargetOption {
	return func(t *Target) {
		t.User = user
	}
}

// WithPassword returns a TargetOption that sets the SSH password for a Target.
func WithPassword(password string) TargetOption {
	return func(t *Target) {
		t.Password = password
	}
}

// WithKeyPassphrase returns a TargetOption that sets the key passphrase for a Target.
func WithKeyPassphrase(keyPassphrase string) TargetOption {
	return func(t *Target) {
		t.KeyPassphrase = keyPassphrase
	}
}

// WithSudoPassword returns a TargetOption that sets the sudo password for a Target.
func WithSudoPassword(password string) TargetOption {
	return func(t *Target) {
		t.SudoPassword = password
	}
}

// WithSSHClient returns a TargetOption that sets the SSH dialer for a Target.
func WithSSHClient(client cm.SSHDialer) TargetOption {
	return func(t *Target) {
		t.SSHClient = client
	}
}

// NewTarget builds a Target with a command manager wired for it. An empty
// hostname means localhost.
func NewTarget(hostname string, options ...TargetOption) (*Target, error) {
	if hostname == "" {
		hostname = "localhost"
	}
	if !hostnamePattern.MatchString(hostname) {
		return nil, fmt.Errorf("invalid hostname: %q", hostname)
	}

	t := &Target{Hostname: hostname}
	for _, option := range options {
		option(t)
	}

	t.CommandManager = &cm.UnixCommandManager{
		Hostname:    t.Hostname,
		SSHClient:   t.SSHClient,
		Credentials: t.Credentials,
	}
	return t, nil
}

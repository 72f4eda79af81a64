// Package execute runs shell commands on the local machine or a WHM host.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"whm-backup/internal/auth"

	"golang.org/x/crypto/ssh"
)

// Runner executes shell commands.
type Runner interface {
	Run(ctx context.Context, command string) (stdout, stderr string, err error)
	Stream(ctx context.Context, command string, stdout, stderr io.Writer) error
	// Host names where commands run.
	Host() string
	Remote() bool
}

// CommandError describes a command that exited unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLine(stderr)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Local runs commands through bash on this machine.
type Local struct{}

// NewLocal returns a runner for the local machine.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Run(ctx context.Context, command string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := l.Stream(ctx, command, &stdout, &stderr)
	return stdout.String(), stderr.String(), wrap(command, stderr.String(), err)
}

func (l *Local) Stream(ctx context.Context, command string, stdout, stderr io.Writer) error {
	c := exec.CommandContext(ctx, "bash", "-lc", command)
	c.Stdout = stdout
	c.Stderr = stderr
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (l *Local) Host() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

func (l *Local) Remote() bool { return false }

// Remote runs commands over an SSH connection.
type Remote struct {
	client *auth.SSHClient
}

// NewRemote wraps an established SSH client.
func NewRemote(client *auth.SSHClient) *Remote {
	return &Remote{client: client}
}

func (r *Remote) Run(ctx context.Context, command string) (string, string, error) {
	stdout, stderr, err := r.client.Run(ctx, command)
	if ctx.Err() != nil {
		return stdout, stderr, ctx.Err()
	}
	return stdout, stderr, wrap(command, stderr, err)
}

func (r *Remote) Stream(ctx context.Context, command string, stdout, stderr io.Writer) error {
	return r.client.Stream(ctx, command, stdout, stderr)
}

func (r *Remote) Host() string { return r.client.Hostname() }

func (r *Remote) Remote() bool { return true }

// Close closes the underlying SSH connection.
func (r *Remote) Close() error {
	return r.client.Close()
}

func wrap(command, stderr string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ce := &CommandError{Command: command, Stderr: stderr, Err: err}
	var exitErr *exec.ExitError
	var sshExit *ssh.ExitError
	switch {
	case errors.As(err, &exitErr):
		ce.ExitCode = exitErr.ExitCode()
	case errors.As(err, &sshExit):
		ce.ExitCode = sshExit.ExitStatus()
	}
	return ce
}

// Quote single-quotes s for safe use as one shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

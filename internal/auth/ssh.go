// Package auth opens SSH connections to WHM hosts.
package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHClient is a persistent SSH connection to one host.
type SSHClient struct {
	client   *ssh.Client
	hostname string
	username string
	stop     chan struct{}
}

// SSHConfig represents SSH connection configuration.
type SSHConfig struct {
	Hostname string
	Username string
	Port     string
	KeyPath  string
	UseAgent bool
	Timeout  time.Duration
	// KeepAlive is the interval between keepalive requests.
	KeepAlive time.Duration
	// KnownHosts enables host key checking against the given file.
	KnownHosts         string
	DisableDefaultKeys bool
}

func (c *SSHConfig) applyDefaults() {
	if c.Port == "" {
		c.Port = "22"
	}
	if c.Username == "" {
		c.Username = "root"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}
}

// authMethods collects agent, explicit key and default key authentication.
func (c SSHConfig) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if c.UseAgent {
		if agentAuth, err := getSSHAgent(); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	if c.KeyPath != "" {
		if keyAuth, err := getPublicKeyAuth(c.KeyPath); err == nil {
			methods = append(methods, keyAuth)
		}
	}

	if !c.DisableDefaultKeys {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
			keyPath := filepath.Join(home, ".ssh", name)
			if c.KeyPath != "" && filepath.Clean(keyPath) == filepath.Clean(c.KeyPath) {
				continue
			}
			if _, err := os.Stat(keyPath); err != nil {
				continue
			}
			if keyAuth, err := getPublicKeyAuth(keyPath); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	return methods
}

func (c SSHConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", c.KnownHosts, err)
	}
	return callback, nil
}

// NewSSHClient dials the host and keeps the connection alive until Close.
func NewSSHClient(ctx context.Context, config SSHConfig) (*SSHClient, error) {
	config.applyDefaults()

	methods := config.authMethods()
	if len(methods) == 0 {
		return nil, errors.New("no valid authentication methods found")
	}

	hostKeys, err := config.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         config.Timeout,
	}

	address := net.JoinHostPort(config.Hostname, config.Port)
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", address, err)
	}

	c := &SSHClient{
		client:   ssh.NewClient(sshConn, chans, reqs),
		hostname: config.Hostname,
		username: config.Username,
		stop:     make(chan struct{}),
	}
	go c.keepAlive(config.KeepAlive)

	return c, nil
}

func (c *SSHClient) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

// getSSHAgent returns SSH agent authentication method
func getSSHAgent() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}

	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// getPublicKeyAuth returns public key authentication method
func getPublicKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// Run executes command and returns its stdout and stderr. Cancelling ctx
// closes the session.
func (c *SSHClient) Run(ctx context.Context, command string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := c.Stream(ctx, command, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// Stream executes command with its output sent to stdout and stderr.
func (c *SSHClient) Stream(ctx context.Context, command string, stdout, stderr io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		session.Close()
		<-done
		return ctx.Err()
	}
}

// Close stops keepalives and closes the connection.
func (c *SSHClient) Close() error {
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Hostname returns the host the client is connected to.
func (c *SSHClient) Hostname() string {
	return c.hostname
}

// Username returns the login user.
func (c *SSHClient) Username() string {
	return c.username
}

package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSSHConfig_Defaults(t *testing.T) {
	config := SSHConfig{Hostname: "whm.example.com"}
	config.applyDefaults()

	if config.Port != "22" {
		t.Errorf("Expected default port to be 22, got %s", config.Port)
	}
	if config.Username != "root" {
		t.Errorf("Expected default user root, got %s", config.Username)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout to be 30s, got %v", config.Timeout)
	}
	if config.KeepAlive != 30*time.Second {
		t.Errorf("Expected default keep-alive to be 30s, got %v", config.KeepAlive)
	}
}

func TestSSHConfig_KeepsExplicitValues(t *testing.T) {
	config := SSHConfig{Port: "2222", Username: "backup", Timeout: time.Second, KeepAlive: time.Minute}
	config.applyDefaults()

	if config.Port != "2222" || config.Username != "backup" {
		t.Errorf("explicit values overwritten: %+v", config)
	}
	if config.Timeout != time.Second || config.KeepAlive != time.Minute {
		t.Errorf("explicit durations overwritten: %+v", config)
	}
}

func TestNewSSHClient_NoAuthMethods(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := NewSSHClient(context.Background(), SSHConfig{Hostname: "127.0.0.1", UseAgent: true})
	if err == nil {
		t.Fatal("expected an error without any authentication method")
	}
}

func TestGetPublicKeyAuth_InvalidKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := getPublicKeyAuth(path); err == nil {
		t.Error("expected a parse error for a bogus key")
	}
	if _, err := getPublicKeyAuth(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected a read error for a missing key")
	}
}

func TestHostKeyCallback_MissingKnownHosts(t *testing.T) {
	config := SSHConfig{KnownHosts: filepath.Join(t.TempDir(), "known_hosts")}
	if _, err := config.hostKeyCallback(); err == nil {
		t.Error("expected an error for a missing known_hosts file")
	}
}

func TestSSHClient_Accessors(t *testing.T) {
	client := &SSHClient{hostname: "whm.example.com", username: "root"}
	if client.Hostname() != "whm.example.com" {
		t.Errorf("Expected hostname 'whm.example.com', got '%s'", client.Hostname())
	}
	if client.Username() != "root" {
		t.Errorf("Expected username 'root', got '%s'", client.Username())
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close on an unconnected client: %v", err)
	}
}

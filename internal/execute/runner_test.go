package execute

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestLocalRun(t *testing.T) {
	requireBash(t)
	stdout, stderr, err := NewLocal().Run(context.Background(), "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(stdout) != "out" {
		t.Errorf("stdout = %q", stdout)
	}
	if strings.TrimSpace(stderr) != "err" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestLocalRunExitCode(t *testing.T) {
	requireBash(t)
	_, _, err := NewLocal().Run(context.Background(), "echo boom >&2; exit 3")

	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if ce.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", ce.ExitCode)
	}
	if !strings.Contains(ce.Error(), "boom") {
		t.Errorf("error should carry stderr: %q", ce.Error())
	}
}

func TestLocalRunCancelled(t *testing.T) {
	requireBash(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewLocal().Run(ctx, "sleep 5")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalStream(t *testing.T) {
	requireBash(t)
	var out bytes.Buffer
	if err := NewLocal().Stream(context.Background(), "printf 'abc'", &out, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "abc" {
		t.Errorf("streamed %q, want abc", out.String())
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "'alice'"},
		{"", "''"},
		{"it's", `'it'\''s'`},
		{"a b; rm -rf /", "'a b; rm -rf /'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Command: "pkgacct x", ExitCode: 1, Stderr: "line one\nfinal line\n"}
	if !strings.HasSuffix(err.Error(), "final line") {
		t.Errorf("Error() = %q", err.Error())
	}
}

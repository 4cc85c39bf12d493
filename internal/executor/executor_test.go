package executor

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestCLIExecutor(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()
	e := NewCLIExecutor()
	dir := t.TempDir()

	stdout, stderr, err := e.Run(ctx, dir, "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(string(stdout)) != "out" {
		t.Errorf("stdout = %q, want %q", stdout, "out")
	}
	if strings.TrimSpace(string(stderr)) != "err" {
		t.Errorf("stderr = %q, want %q", stderr, "err")
	}

	combined, err := e.CombinedOutput(ctx, dir, "sh", "-c", "echo a; echo b >&2")
	if err != nil {
		t.Fatalf("CombinedOutput() error = %v", err)
	}
	if !strings.Contains(string(combined), "a") || !strings.Contains(string(combined), "b") {
		t.Errorf("combined = %q, want both streams", combined)
	}

	pwd, err := e.Output(ctx, dir, "sh", "-c", "pwd")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(pwd)), lastElem(dir)) {
		t.Errorf("pwd = %q, want to run in %q", pwd, dir)
	}

	_, err = e.Output(ctx, dir, "sh", "-c", "exit 3")
	if got := ExitCode(err); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
}

func lastElem(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"mock exit", ExitError(128), 128},
		{"plain", errors.New("boom"), -1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("%s: ExitCode() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestMockExecutor_Matching(t *testing.T) {
	ctx := context.Background()
	m := NewMockExecutor(nil)
	m.AddExactMatch("git", []string{"rev-parse", "--show-toplevel"}, MockResponse{Stdout: []byte("/repo\n")})
	m.AddPrefixMatch("git", []string{"worktree", "remove"}, MockResponse{
		Stderr: []byte("fatal: contains modified or untracked files"),
		Err:    ExitError(128),
	})

	out, err := m.Output(ctx, "/repo", "git", "rev-parse", "--show-toplevel")
	if err != nil || string(out) != "/repo\n" {
		t.Errorf("Output() = %q, %v", out, err)
	}

	combined, err := m.CombinedOutput(ctx, "/repo", "git", "worktree", "remove", "/wt")
	if ExitCode(err) != 128 {
		t.Errorf("ExitCode = %d, want 128", ExitCode(err))
	}
	if !strings.Contains(string(combined), "modified or untracked") {
		t.Errorf("combined = %q, want stderr included", combined)
	}

	out, err = m.Output(ctx, "/repo", "git", "status")
	if err != nil || out != nil {
		t.Errorf("unmatched Output() = %q, %v, want empty success", out, err)
	}

	if got := len(m.Calls()); got != 3 {
		t.Errorf("len(Calls()) = %d, want 3", got)
	}
	if got := len(m.CallsTo("git", "worktree")); got != 1 {
		t.Errorf("len(CallsTo(worktree)) = %d, want 1", got)
	}

	m.ClearCalls()
	if len(m.Calls()) != 0 {
		t.Error("ClearCalls() did not clear")
	}
}

func TestMockExecutor_Fallback(t *testing.T) {
	inner := NewMockExecutor(nil)
	inner.AddExactMatch("tmux", []string{"has-session", "-t", "%1"}, MockResponse{Err: ExitError(1)})
	outer := NewMockExecutor(inner)

	_, _, err := outer.Run(context.Background(), "", "tmux", "has-session", "-t", "%1")
	if ExitCode(err) != 1 {
		t.Errorf("fallback ExitCode = %d, want 1", ExitCode(err))
	}
	if len(inner.Calls()) != 1 {
		t.Errorf("fallback not invoked")
	}
}

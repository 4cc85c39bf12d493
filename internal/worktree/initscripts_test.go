package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	// Written without the executable bit; the runner must chmod it.
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteInitScripts(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}

	wt, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	initDir := filepath.Join(wt, DefaultInitDir)
	writeScript(t, initDir, "02-second.sh", "echo second >> order.txt\n")
	writeScript(t, initDir, "01-first.sh", "echo first >> order.txt\necho broken >&2\nexit 3\n")
	writeScript(t, initDir, "03-third.sh", "echo third >> order.txt\nprintf '%s' \"$1\" > source.txt\npwd > cwd.txt\n")
	if err := os.WriteFile(filepath.Join(initDir, "README.md"), []byte("not a script"), 0644); err != nil {
		t.Fatal(err)
	}

	m := New(t.TempDir())
	outcomes, err := m.ExecuteInitScripts(context.Background(), wt, "/src/origin")
	if err != nil {
		t.Fatalf("ExecuteInitScripts() error = %v", err)
	}

	var names []string
	for _, o := range outcomes {
		names = append(names, o.Script)
	}
	if want := []string{"01-first.sh", "02-second.sh", "03-third.sh"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("scripts = %v, want %v", names, want)
	}

	if outcomes[0].Success || outcomes[0].Error == "" {
		t.Errorf("01-first.sh outcome = %+v, want failure with reason", outcomes[0])
	}
	if !strings.Contains(outcomes[0].Output, "broken") {
		t.Errorf("01-first.sh output = %q, want captured stderr", outcomes[0].Output)
	}
	for _, o := range outcomes[1:] {
		if !o.Success {
			t.Errorf("%s failed: %s", o.Script, o.Error)
		}
	}
	if got := Succeeded(outcomes); !reflect.DeepEqual(got, []string{"02-second.sh", "03-third.sh"}) {
		t.Errorf("Succeeded() = %v", got)
	}

	order, _ := os.ReadFile(filepath.Join(wt, "order.txt"))
	if string(order) != "first\nsecond\nthird\n" {
		t.Errorf("execution order = %q", order)
	}
	source, _ := os.ReadFile(filepath.Join(wt, "source.txt"))
	if string(source) != "/src/origin" {
		t.Errorf("script argument = %q, want /src/origin", source)
	}
	cwd, _ := os.ReadFile(filepath.Join(wt, "cwd.txt"))
	if strings.TrimSpace(string(cwd)) != wt {
		t.Errorf("script cwd = %q, want %q", strings.TrimSpace(string(cwd)), wt)
	}
}

func TestExecuteInitScripts_NoDirectory(t *testing.T) {
	m := New(t.TempDir())
	outcomes, err := m.ExecuteInitScripts(context.Background(), t.TempDir(), "/src/origin")
	if err != nil || outcomes != nil {
		t.Errorf("ExecuteInitScripts() = %v, %v; want nil, nil", outcomes, err)
	}
}

func TestExecuteInitScripts_CustomDir(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}

	wt := t.TempDir()
	writeScript(t, filepath.Join(wt, "setup"), "only.sh", "exit 0\n")

	outcomes, err := New(t.TempDir(), WithInitDir("setup")).ExecuteInitScripts(context.Background(), wt, "/r")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || !outcomes[0].Success {
		t.Errorf("outcomes = %+v, want one success", outcomes)
	}
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurricanerix/tagweave/internal/config"
)

// execute runs the command line with stdin and returns the exit code and
// captured output.
func execute(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeConfig writes a config file pointing at a fresh workflow directory
// and returns the global flags that select it.
func writeConfig(t *testing.T, workflows map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	wfDir := filepath.Join(dir, "workflows")
	if err := os.MkdirAll(wfDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	for name, body := range workflows {
		if err := os.WriteFile(filepath.Join(wfDir, name), []byte(body), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	cfgPath := filepath.Join(dir, "tagweave.yaml")
	yaml := "comfy:\n  workflow_dir: " + wfDir + "\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return []string{"--config", cfgPath, "--env-file", filepath.Join(dir, "missing.env")}
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, "", "version")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, config.Version) {
		t.Errorf("output = %q, want it to contain %q", out, config.Version)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := execute(t, "", "bogus")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Error:") {
		t.Errorf("stderr = %q, want an error message", stderr)
	}
}

func TestSanitize(t *testing.T) {
	code, out, _ := execute(t, "Pose: sitting\nExpression: smile", "sanitize")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if got, want := strings.TrimSpace(out), "sitting, smile"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSanitize_Empty(t *testing.T) {
	code, out, _ := execute(t, "   ", "sanitize")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if out != "" {
		t.Errorf("output = %q, want empty", out)
	}
}

func TestFill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	template := `{"3":{"inputs":{"text":"%prompt%","seed":"%seed%","steps":"%steps%","cfg":"%cfg%","tags":"%tags%","sampler":"%sampler%","name":"%name%"}}}`
	if err := os.WriteFile(path, []byte(template), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	code, out, stderr := execute(t, "", "fill", path,
		"--prompt", "1girl, smiling",
		"--seed", "42",
		"--set-num", "steps=20",
		"--set-num", "cfg=7.5",
		"--list", "tags=a, b,,c",
		"--set", "sampler=euler",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}

	for _, want := range []string{
		`"text":"1girl, smiling"`,
		`"seed":42`,
		`"steps":20`,
		`"cfg":7.5`,
		`"tags":["a","b","c"]`,
		`"sampler":"euler"`,
		`"name":"%name%"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %s, want it to contain %s", out, want)
		}
	}
	if !strings.Contains(stderr, "%name%") {
		t.Errorf("stderr = %q, want a warning for %%name%%", stderr)
	}
}

func TestFill_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.json")
	if err := os.WriteFile(path, []byte(`{"a":"%n%"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	broken := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(broken, []byte(`{"a": %n%}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"missing template", []string{"fill", filepath.Join(dir, "nope.json")}},
		{"bad assignment", []string{"fill", path, "--set", "novalue"}},
		{"empty name", []string{"fill", path, "--set", "=x"}},
		{"bad number", []string{"fill", path, "--set-num", "n=abc"}},
		{"invalid result", []string{"fill", broken}},
		{"no template", []string{"fill"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := execute(t, "", tt.args...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
		})
	}
}

func TestFill_FromWorkflowDir(t *testing.T) {
	flags := writeConfig(t, map[string]string{"simple.json": `{"seed":"%seed%"}`})

	code, out, stderr := execute(t, "", append(flags, "fill", "simple.json", "--seed", "3")...)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}
	if got, want := strings.TrimSpace(out), `{"seed":3}`; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestWorkflows(t *testing.T) {
	flags := writeConfig(t, map[string]string{
		"b.json":    `{}`,
		"a.json":    `{}`,
		"notes.txt": "ignored",
	})

	code, out, stderr := execute(t, "", append(flags, "workflows")...)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}
	if got, want := out, "a.json\nb.json\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	flags := writeConfig(t, nil)
	opts := &options{
		configPath:   flags[1],
		envFile:      flags[3],
		logLevel:     "debug",
		portOverride: 9090,
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, 9090)
	}

	opts.logLevel = "loud"
	if _, err := opts.loadConfig(); err == nil {
		t.Error("loadConfig() error = nil, want invalid log level error")
	}
}

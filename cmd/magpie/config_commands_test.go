package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	content := `[paths]
data_dir = "` + filepath.Join(base, "data") + `"
cache_dir = "` + filepath.Join(base, "cache") + `"
library_dir = "` + filepath.Join(base, "library") + `"
log_dir = "` + filepath.Join(base, "logs") + `"

[llm]
api_key = "sk-secret"
`
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out := runCommand(t, "config", "init", "--path", target)
	if !strings.Contains(out, target) {
		t.Fatalf("output should name the target path: %s", out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("sample not written: %v", err)
	}
	if !strings.Contains(string(data), "[paths]") {
		t.Fatalf("sample missing [paths] section: %s", data)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	runCommand(t, "config", "init", "--path", target)

	cmd := newRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("second init must refuse to overwrite")
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	path := writeTestConfig(t)
	out := runCommand(t, "--config", path, "config", "show")
	if strings.Contains(out, "sk-secret") {
		t.Fatalf("api key leaked into output: %s", out)
	}
	if !strings.Contains(out, "********") {
		t.Fatalf("masked placeholder missing: %s", out)
	}
}

func TestItemsEmptyCatalog(t *testing.T) {
	path := writeTestConfig(t)
	out := runCommand(t, "--config", path, "items")
	if !strings.Contains(out, "No items") {
		t.Fatalf("expected empty catalog notice, got: %s", out)
	}
}

func TestPlanEmptyCatalog(t *testing.T) {
	path := writeTestConfig(t)
	out := runCommand(t, "--config", path, "plan")
	if !strings.Contains(out, "Nothing to rebuild") {
		t.Fatalf("expected empty plan notice, got: %s", out)
	}
}

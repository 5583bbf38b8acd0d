package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"stacknn/nn"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSummaryYAML(t *testing.T) {
	out, err := execute(t, "summary", "--hidden", "4", "--input-dim", "3", "--outputs", "2", "--format", "yaml")
	if err != nil {
		t.Fatal(err)
	}
	var d nn.Description
	if err := yaml.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("summary is not YAML: %v\n%s", err, out)
	}
	if d.Name != "MLP" || !d.Initialized {
		t.Errorf("unexpected root %+v", d)
	}
	// Dense_4, Relu, Dropout, Dense_2.
	if len(d.Sublayers) != 4 || d.Weights != 3*4+4+4*2+2 {
		t.Errorf("sublayers %d, weights %d", len(d.Sublayers), d.Weights)
	}
}

func TestSummaryTree(t *testing.T) {
	out, err := execute(t, "summary", "--model", "residual", "--blocks", "1", "--no-color")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ResidualStack 1->1", "Residual 1->1", "FeedForward", "levels: 0, encrypted: false"} {
		if !strings.Contains(out, want) {
			t.Errorf("tree missing %q:\n%s", want, out)
		}
	}
}

func TestScenarios(t *testing.T) {
	out, err := execute(t, "scenarios", "parallel-add", "relu-layernorm")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[83 229 375 449]") {
		t.Errorf("parallel-add output missing:\n%s", out)
	}
	if _, err := execute(t, "scenarios", "nope"); err == nil {
		t.Errorf("expected error for unknown scenario")
	}
}

func TestRunSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.json")
	first, err := execute(t, "run", "--batches", "2", "--save", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("weights not saved: %v", err)
	}
	second, err := execute(t, "run", "--batches", "2", "--load", path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || strings.Count(first, "batch ") != 2 {
		t.Errorf("outputs differ or are incomplete:\n%s\n---\n%s", first, second)
	}
}

func TestConfigFileAndErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("model: feedforward\nd-model: 3\nd-ff: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", path, "summary", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"name": "FeedForward"`) {
		t.Errorf("config file not applied:\n%s", out)
	}

	if _, err := execute(t, "run", "--mode", "infer"); err == nil {
		t.Errorf("expected validation error")
	}
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "summary"); err == nil {
		t.Errorf("expected error for a missing config file")
	}
}

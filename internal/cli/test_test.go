package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The harness package keeps the reference scenarios and their golden files.
var (
	scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")
	goldenDir    = filepath.Join("..", "harness", "testdata", "golden")
)

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandPasses(t *testing.T) {
	out, err := executeTest(t, "text", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ fetch_cup")
	assert.Contains(t, out, "✓ local_only")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := executeTest(t, "json", scenariosDir, "--filter", "fetch*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "fetch_cup", resp.Data.Scenarios[0].Name)
}

func TestTestCommandUpdateGolden(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")

	out, err := executeTest(t, "text", scenariosDir, "--golden", golden, "--update")
	require.NoError(t, err, out)

	written, err := os.ReadFile(filepath.Join(golden, "fetch_cup.golden"))
	require.NoError(t, err)
	reference, err := os.ReadFile(filepath.Join(goldenDir, "fetch_cup.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(reference), string(written))

	out, err = executeTest(t, "text", scenariosDir, "--golden", golden)
	require.NoError(t, err, out)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "local_only.golden"), []byte("{}\n"), 0644))

	out, err := executeTest(t, "text", scenariosDir, "--golden", golden, "--filter", "local_only")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ local_only")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	spec, err := filepath.Abs(filepath.Join("..", "harness", "testdata", "abilities", "robot.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: arm is not holding anything yet
specs: ["`+filepath.ToSlash(spec)+`"]
flow:
  - agent: arm
    infer: holding(cup)
    expect: { truth: "true" }
`), 0644))

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, `expected "true", got "false"`)
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0644))

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandMissingDirectory(t *testing.T) {
	_, err := executeTest(t, "text", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFindScenarioFilesBadFilter(t *testing.T) {
	_, err := findScenarioFiles(scenariosDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

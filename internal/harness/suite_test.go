package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioFiles(t *testing.T) {
	paths, err := ScenarioFiles(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	assert.Equal(t, []string{
		"decline_cascade.yaml",
		"overaward_deduction.yaml",
		"overaward_tolerance.yaml",
		"reassessment_overaward.yaml",
	}, names)
}

func TestScenarioFiles_MissingDir(t *testing.T) {
	_, err := ScenarioFiles("/nonexistent/scenarios")
	require.Error(t, err)
}

func TestRunDir_AllPass(t *testing.T) {
	result, err := RunDir(context.Background(), filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 4, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
}

func TestRunDir_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	copyFile(t, filepath.Join("testdata", "scenarios", "decline_cascade.yaml"), filepath.Join(dir, "a_pass.yaml"))
	copyFile(t, filepath.Join("testdata", "invalid", "unknown_field.yaml"), filepath.Join(dir, "b_invalid.yml"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c_fail.yaml"), []byte(`
name: failing
description: "Expects a balance that is never recorded"
setup:
  applications:
    - { ref: app, student_id: 1, application_number: APP-1, status: In Progress }
steps:
  - { action: rollback, application: app }
assertions:
  - { type: overaward_balance, student_id: 1, code: CSLF, equals: "5" }
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	result, err := RunDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Equal(t, "failing", result.Failures[1].Scenario)
	assert.Contains(t, result.Failures[1].Error, "scenario assertions failed")
}

func TestRunDir_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunDir(ctx, filepath.Join("testdata", "scenarios"))
	require.ErrorIs(t, err, context.Canceled)
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0644))
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"recoverydispatch/internal/model"
)

const requestJSON = `{
  "now": "2024-01-01T10:00:00Z",
  "jobs": [
    {"id": "j1", "pickup": {"lat": 51.50, "lng": -0.10}, "issueType": "repair", "homeFallback": {"lat": 51.45, "lng": -0.12}},
    {"id": "j2", "pickup": {"lat": 51.49, "lng": -0.11}, "issueType": "recovery_only", "homeFallback": {"lat": 51.46, "lng": -0.10}}
  ],
  "vehicles": [
    {"id": "v1", "type": "van_only", "location": {"lat": 51.51, "lng": -0.10}, "shiftEnd": "2024-01-01T18:00:00Z"}
  ],
  "garages": []
}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ETA_PROVIDER", "haversine")
	t.Setenv("LOG_LEVEL", "error")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOptimizeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(requestJSON), 0o600))

	out, err := execute(t, "", "optimize", "--file", path)
	require.NoError(t, err)
	var res model.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "j1", res.Assignments[0].JobID)
	assert.Equal(t, model.DropHomeFallback, res.Assignments[0].DropDecision)
	assert.Equal(t, []string{"j2"}, res.Unassigned)
}

func TestOptimizeFromStdinRejectsInvalidInput(t *testing.T) {
	_, err := execute(t, `{"jobs": [], "vehicles": []}`, "optimize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one job")

	_, err = execute(t, `{`, "optimize")
	require.Error(t, err)
}

func TestPoliciesPrintsDefaults(t *testing.T) {
	out, err := execute(t, "", "policies")
	require.NoError(t, err)
	var doc map[string]model.Policies
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, model.DefaultPolicies(), doc["policies"])
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "", "migrate", "up", "--dir", t.TempDir())
	require.Error(t, err)
}

func TestOptimizeNowFlagWinsOverRequest(t *testing.T) {
	// 17:30 is inside v1's last hour, so it takes no new jobs.
	out, err := execute(t, requestJSON, "optimize", "--now", "2024-01-01T17:30:00Z")
	require.NoError(t, err)
	var res model.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Assignments)
	assert.ElementsMatch(t, []string{"j1", "j2"}, res.Unassigned)
}

func TestOptimizeRejectsUnknownIssueType(t *testing.T) {
	out, err := execute(t, strings.Replace(requestJSON, `"issueType": "repair"`, `"issueType": "Repair"`, 1), "optimize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs[0].issueType")
	assert.NotContains(t, out, "assignments")
}

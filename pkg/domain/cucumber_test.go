package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridayops/friday/pkg/domain"
)

const sampleCucumber = `[
  {
    "uri": "features/login.feature",
    "id": "login",
    "name": "Login",
    "tags": [{"name": "@auth"}],
    "elements": [
      {
        "id": "login;valid-credentials",
        "name": "Valid credentials",
        "type": "scenario",
        "tags": [{"name": "@smoke"}],
        "steps": [
          {
            "keyword": "Given ",
            "name": "a registered user",
            "result": {"status": "passed", "duration": 1000000}
          },
          {
            "keyword": "When ",
            "name": "they log in",
            "result": {"status": "passed", "duration": 2000000}
          }
        ]
      },
      {
        "id": "login;invalid-credentials",
        "name": "Invalid credentials",
        "type": "scenario",
        "steps": [
          {
            "keyword": "When ",
            "name": "they log in with a bad password",
            "result": {
              "status": "failed",
              "duration": 3000000,
              "error_message": "expected error banner"
            },
            "embeddings": [
              {"mime_type": "image/png", "data": "screenshots/fail.png"}
            ]
          },
          {
            "keyword": "Then ",
            "name": "they see an error",
            "result": {"status": "skipped"}
          }
        ]
      }
    ]
  }
]`

func TestParseCucumber(t *testing.T) {
	report, err := domain.ParseCucumber([]byte(sampleCucumber), domain.Sideband{
		Name:      "nightly",
		Project:   "Webshop",
		UUID:      "run-uuid-1",
		Timestamp: "2026-08-01T00:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "nightly", report.Name)
	assert.Equal(t, "Webshop", report.ProjectName)
	assert.Equal(t, "run-uuid-1", report.OriginalUUID)

	require.Len(t, report.Features, 1)
	assert.Equal(t, "Login", report.Features[0].Name)
	assert.Equal(t, "features/login.feature", report.Features[0].FilePath)
	assert.Equal(t, []string{"auth"}, report.Features[0].Tags)

	require.Len(t, report.Scenarios, 2)

	passed := report.Scenarios[0]
	assert.Equal(t, "Valid credentials", passed.Name)
	assert.Equal(t, "Login", passed.FeatureName)
	assert.Equal(t, domain.StatusPassed, passed.Status)
	assert.Equal(t, 3*time.Millisecond, passed.Duration)

	// Feature tags merge with scenario tags.
	assert.Equal(t, []string{"@auth", "@smoke"}, passed.Tags)

	failed := report.Scenarios[1]
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "expected error banner", failed.ErrorMessage)

	require.Len(t, failed.Steps, 2)
	assert.Equal(t, "screenshots/fail.png", failed.Steps[0].ScreenshotURL)
	assert.Equal(t, domain.StatusSkipped, failed.Steps[1].Status)

	assert.Equal(t, domain.StatusFailed, report.Status())
}

func TestParseCucumber_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"not": "an array"`},
		{"wrong shape", `{"features": []}`},
		{"empty feature list", `[]`},
		{"feature without name", `[{"id": "x", "elements": [
			{"type": "scenario", "steps": []}]}]`},
		{"no scenarios", `[{"name": "Empty", "elements": []}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.ParseCucumber([]byte(tt.data), domain.Sideband{})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidReport)
		})
	}
}

func TestParseCucumber_AllSkippedScenario(t *testing.T) {
	data := `[{"name": "F", "elements": [{
		"name": "S", "type": "scenario",
		"steps": [
			{"keyword": "Given ", "name": "a", "result": {"status": "skipped"}},
			{"keyword": "When ", "name": "b", "result": {"status": "undefined"}}
		]}]}]`

	report, err := domain.ParseCucumber([]byte(data), domain.Sideband{})
	require.NoError(t, err)
	require.Len(t, report.Scenarios, 1)

	assert.Equal(t, domain.StatusSkipped, report.Scenarios[0].Status)
}

func TestParseCucumber_BackgroundElementsIgnored(t *testing.T) {
	data := `[{"name": "F", "elements": [
		{"name": "bg", "type": "background", "steps": [
			{"keyword": "Given ", "name": "setup", "result": {"status": "passed"}}
		]},
		{"name": "S", "type": "scenario", "steps": [
			{"keyword": "Then ", "name": "check", "result": {"status": "passed"}}
		]}]}]`

	report, err := domain.ParseCucumber([]byte(data), domain.Sideband{})
	require.NoError(t, err)

	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "S", report.Scenarios[0].Name)
}

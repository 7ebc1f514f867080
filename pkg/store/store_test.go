package store_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridayops/friday/pkg/config"
	"github.com/fridayops/friday/pkg/domain"
	"github.com/fridayops/friday/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func sampleReport(uuid string) *domain.Report {
	return &domain.Report{
		Name:         "nightly",
		ProjectName:  "Webshop",
		Environment:  "staging",
		Branch:       "main",
		CommitSHA:    "abc123",
		OriginalUUID: uuid,
		Timestamp:    time.Now().UTC().Add(-time.Minute),
		Scenarios: []domain.Scenario{
			{
				Name:        "Valid login",
				FeatureName: "Login",
				Status:      domain.StatusPassed,
				Duration:    2 * time.Second,
			},
			{
				Name:         "Invalid login",
				FeatureName:  "Login",
				Status:       domain.StatusFailed,
				ErrorMessage: "expected error banner",
			},
		},
	}
}

func TestStore_StoreReport(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, duplicate, err := s.StoreReport(ctx, sampleReport("uuid-1"))
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.False(t, duplicate)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nightly", run.Name)
	assert.Equal(t, string(domain.StatusFailed), run.Status)
	assert.Equal(t, 2, run.TotalTests)
	assert.Equal(t, 1, run.PassedTests)
	assert.Equal(t, 1, run.FailedTests)
	assert.InDelta(t, 50.0, run.SuccessRate, 0.001)
	require.NotNil(t, run.OriginalUUID)
	assert.Equal(t, "uuid-1", *run.OriginalUUID)
}

func TestStore_StoreReportIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, duplicate, err := s.StoreReport(ctx, sampleReport("uuid-dup"))
	require.NoError(t, err)
	assert.False(t, duplicate)

	// Re-ingesting the same UUID returns the existing run, no new row.
	second, duplicate, err := s.StoreReport(ctx, sampleReport("uuid-dup"))
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, first, second)
}

func TestStore_StoreReportWithoutUUID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Two UUID-less reports must not collide on the unique index.
	a, _, err := s.StoreReport(ctx, sampleReport(""))
	require.NoError(t, err)

	b, _, err := s.StoreReport(ctx, sampleReport(""))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStore_ProjectAutoCreate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.StoreReport(ctx, sampleReport("uuid-p1"))
	require.NoError(t, err)

	p, err := s.GetProjectByName(ctx, "Webshop")
	require.NoError(t, err)
	assert.True(t, p.Active)

	// Provenance is recorded on auto-created rows.
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(p.Metadata), &meta))
	assert.Equal(t, true, meta["auto_created"])
	assert.Equal(t, store.SourceReportIngestion, meta["source"])

	// A second report reuses the row instead of creating another.
	r := sampleReport("uuid-p2")
	_, _, err = s.StoreReport(ctx, r)
	require.NoError(t, err)

	again, err := s.GetProjectByName(ctx, "Webshop")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestStore_DefaultProjectName(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := sampleReport("uuid-noproj")
	r.ProjectName = ""

	_, _, err := s.StoreReport(ctx, r)
	require.NoError(t, err)

	_, err = s.GetProjectByName(ctx, store.DefaultProjectName)
	require.NoError(t, err)
}

func TestStore_StoreTestCase(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID, _, err := s.StoreReport(ctx, sampleReport("uuid-tc"))
	require.NoError(t, err)

	sc := &domain.Scenario{
		OriginalID:  "login;valid",
		Name:        "Valid login",
		FeatureName: "Login",
		Status:      domain.StatusPassed,
		Duration:    1500 * time.Millisecond,
		Parameters:  map[string]string{"browser": "firefox"},
	}

	// Run references resolve both numerically and by UUID.
	id, err := s.StoreTestCase(ctx, sc, strconv.FormatUint(uint64(runID), 10))
	require.NoError(t, err)
	require.NotZero(t, id)

	byUUID, err := s.StoreTestCase(ctx, sc, "uuid-tc")
	require.NoError(t, err)
	require.NotZero(t, byUUID)

	row, err := s.GetScenario(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Valid login", row.Name)
	assert.Equal(t, string(domain.StatusPassed), row.Status)
	assert.Equal(t, runID, row.TestRunID)
	assert.Equal(t, int64(1500), row.DurationMS)

	var params map[string]string
	require.NoError(t, json.Unmarshal([]byte(row.Parameters), &params))
	assert.Equal(t, "firefox", params["browser"])

	// The feature was auto-created by exact name.
	f, err := s.GetFeatureByName(ctx, "Login")
	require.NoError(t, err)
	require.NotNil(t, row.FeatureID)
	assert.Equal(t, f.ID, *row.FeatureID)
}

func TestStore_StoreTestCaseUnknownRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sc := &domain.Scenario{Name: "orphan", Status: domain.StatusPassed}

	_, err := s.StoreTestCase(ctx, sc, "no-such-uuid")
	require.Error(t, err)
}

func TestStore_ScenarioTagsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID, _, err := s.StoreReport(ctx, sampleReport("uuid-tags"))
	require.NoError(t, err)

	sc := &domain.Scenario{Name: "tagged", Status: domain.StatusPassed}
	scID, err := s.StoreTestCase(ctx, sc, strconv.FormatUint(uint64(runID), 10))
	require.NoError(t, err)

	// @ markers are stripped and duplicates collapse to one row.
	require.NoError(t, s.StoreScenarioTags(ctx, scID,
		[]string{"@smoke", "@smoke", "regression"}))
	require.NoError(t, s.StoreScenarioTags(ctx, scID, []string{"smoke"}))

	tags, err := s.ListScenarioTags(ctx, scID)
	require.NoError(t, err)
	assert.Equal(t, []string{"regression", "smoke"}, tags)

	// Empty list is a no-op.
	require.NoError(t, s.StoreScenarioTags(ctx, scID, nil))
}

func TestStore_StoreTestStep(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID, _, err := s.StoreReport(ctx, sampleReport("uuid-steps"))
	require.NoError(t, err)

	sc := &domain.Scenario{Name: "with steps", Status: domain.StatusPassed}
	scID, err := s.StoreTestCase(ctx, sc, strconv.FormatUint(uint64(runID), 10))
	require.NoError(t, err)

	require.NoError(t, s.UpdateScenarioVector(ctx, scID, "vec-123"))

	step := &domain.Step{
		Keyword:  "Given",
		Name:     "a registered user",
		Status:   domain.StatusPassed,
		Duration: 100 * time.Millisecond,
	}

	id, err := s.StoreTestStep(ctx, step, "vec-123")
	require.NoError(t, err)
	require.NotZero(t, id)

	// Position defaults to the next slot when unset.
	second, err := s.StoreTestStep(ctx, &domain.Step{
		Keyword: "When", Name: "they log in", Status: domain.StatusPassed,
	}, "vec-123")
	require.NoError(t, err)
	require.NotZero(t, second)

	count, err := s.CountSteps(ctx, scID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_StoreTestStepMissingParent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	step := &domain.Step{Name: "orphan step", Status: domain.StatusPassed}

	// Unknown parent reference skips the write instead of failing.
	id, err := s.StoreTestStep(ctx, step, "vec-does-not-exist")
	require.NoError(t, err)
	assert.Zero(t, id)

	// Empty reference is the same recognized partial-failure path.
	id, err = s.StoreTestStep(ctx, step, "")
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestStore_VectorPatchMergesMetadata(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := sampleReport("uuid-vec")
	r.Metadata = map[string]any{"ci_job": "pipeline-42"}

	runID, _, err := s.StoreReport(ctx, r)
	require.NoError(t, err)

	require.NoError(t, s.UpdateRunVector(ctx, runID, "vec-run-1"))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "vec-run-1", run.VectorID)

	// Existing metadata keys survive the vector_id merge.
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(run.Metadata), &meta))
	assert.Equal(t, "pipeline-42", meta["ci_job"])
	assert.Equal(t, "vec-run-1", meta["vector_id"])
}

func TestStore_UpdateScenarioVectorSetsQdrantID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID, _, err := s.StoreReport(ctx, sampleReport("uuid-qd"))
	require.NoError(t, err)

	sc := &domain.Scenario{Name: "linked", Status: domain.StatusPassed}
	scID, err := s.StoreTestCase(ctx, sc, strconv.FormatUint(uint64(runID), 10))
	require.NoError(t, err)

	require.NoError(t, s.UpdateScenarioVector(ctx, scID, "vec-sc-1"))

	row, err := s.GetScenario(ctx, scID)
	require.NoError(t, err)
	assert.Equal(t, "vec-sc-1", row.VectorID)
	assert.Equal(t, "vec-sc-1", row.QdrantID)
}

func TestStore_StoreFeatureLastWriteWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &store.Feature{
		Name:        "Checkout",
		Description: "old description",
		FilePath:    "features/checkout.feature",
		TagsJSON:    `["smoke"]`,
	}

	id, err := s.StoreFeature(ctx, first)
	require.NoError(t, err)
	require.NotZero(t, id)

	second := &store.Feature{
		Name:        "Checkout",
		Description: "new description",
		FilePath:    "features/checkout_v2.feature",
	}

	again, err := s.StoreFeature(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	f, err := s.GetFeatureByName(ctx, "Checkout")
	require.NoError(t, err)
	assert.Equal(t, "new description", f.Description)
	assert.Equal(t, "features/checkout_v2.feature", f.FilePath)

	// Empty fields overwrite too: last-write-wins, not merge.
	third, err := s.StoreFeature(ctx, &store.Feature{Name: "Checkout"})
	require.NoError(t, err)
	assert.Equal(t, id, third)

	f, err = s.GetFeatureByName(ctx, "Checkout")
	require.NoError(t, err)
	assert.Empty(t, f.Description)
	assert.Empty(t, f.FilePath)
	assert.Empty(t, f.TagsJSON)
}

func TestStore_StoreBuildInfo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-5 * time.Minute)
	ended := started.Add(4 * time.Minute)

	id, err := s.StoreBuildInfo(ctx, &domain.BuildInfo{
		ProjectName: "Webshop",
		BuildNumber: "1042",
		Name:        "ci-build",
		Status:      domain.StatusPassed,
		StartedAt:   started,
		EndedAt:     ended,
		Branch:      "main",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, s.UpdateBuildVector(ctx, id, "vec-build-1"))
}

func TestStore_ResolveRunID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID, _, err := s.StoreReport(ctx, sampleReport("uuid-resolve"))
	require.NoError(t, err)

	byNumber, err := s.ResolveRunID(ctx,
		strconv.FormatUint(uint64(runID), 10))
	require.NoError(t, err)
	assert.Equal(t, runID, byNumber)

	byUUID, err := s.ResolveRunID(ctx, "uuid-resolve")
	require.NoError(t, err)
	assert.Equal(t, runID, byUUID)

	_, err = s.ResolveRunID(ctx, "uuid-missing")
	require.Error(t, err)
}

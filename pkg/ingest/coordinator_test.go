package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridayops/friday/pkg/config"
	"github.com/fridayops/friday/pkg/domain"
	"github.com/fridayops/friday/pkg/ingest"
	"github.com/fridayops/friday/pkg/store"
	"github.com/fridayops/friday/pkg/vector"
)

// fakeVectorStore records upserts in memory. When failing is set, every
// upsert errors.
type fakeVectorStore struct {
	mu      sync.Mutex
	failing bool
	next    int
	points  map[string]map[string]any
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: make(map[string]map[string]any)}
}

func (f *fakeVectorStore) Start(_ context.Context) error { return nil }
func (f *fakeVectorStore) Stop() error                   { return nil }

func (f *fakeVectorStore) Upsert(
	_ context.Context, text string, payload map[string]any,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failing {
		return "", errors.New("vector store unavailable")
	}

	f.next++
	id := fmt.Sprintf("vec-%d", f.next)

	if payload == nil {
		payload = map[string]any{}
	}

	payload[vector.PayloadText] = text
	f.points[id] = payload

	return id, nil
}

func (f *fakeVectorStore) Query(
	_ context.Context, _ string, _ vector.Filter, _ int,
) ([]vector.Hit, error) {
	return nil, nil
}

func (f *fakeVectorStore) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, payload := range f.points {
		if payload[vector.PayloadKind] == kind {
			n++
		}
	}

	return n
}

func setupStore(t *testing.T) store.Store {
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

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func sampleReport(uuid string) *domain.Report {
	return &domain.Report{
		Name:         "nightly",
		ProjectName:  "Webshop",
		OriginalUUID: uuid,
		Timestamp:    time.Now().UTC().Add(-time.Minute),
		Features: []domain.FeatureInfo{
			{
				Name:     "Login",
				FilePath: "features/login.feature",
				Tags:     []string{"auth"},
			},
		},
		Scenarios: []domain.Scenario{
			{
				Name:        "Valid login",
				FeatureName: "Login",
				Status:      domain.StatusPassed,
				Tags:        []string{"@smoke"},
				Steps: []domain.Step{
					{Keyword: "Given", Name: "a user", Status: domain.StatusPassed},
					{Keyword: "When", Name: "they log in", Status: domain.StatusPassed},
				},
			},
			{
				Name:        "Invalid login",
				FeatureName: "Login",
				Status:      domain.StatusFailed,
				Steps: []domain.Step{
					{Keyword: "When", Name: "bad password", Status: domain.StatusFailed},
				},
			},
		},
	}
}

func TestCoordinator_IngestReport(t *testing.T) {
	s := setupStore(t)
	vs := newFakeVectorStore()
	c := ingest.NewCoordinator(testLogger(), s, vs, 2)

	result, err := c.IngestReport(context.Background(), sampleReport("uuid-1"))
	require.NoError(t, err)

	assert.NotZero(t, result.TestRunID)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 1, result.Features)
	assert.Equal(t, 2, result.Scenarios)
	assert.Equal(t, 3, result.Steps)
	assert.Zero(t, result.StepsSkip)
	assert.Equal(t, 2, result.FullyLinked)
	assert.Zero(t, result.Degraded)
	assert.Equal(t, ingest.FullyLinked, result.RunState)

	// One report point, one per feature, scenario, and step.
	assert.Equal(t, 1, vs.count(vector.KindReport))
	assert.Equal(t, 1, vs.count(vector.KindFeature))
	assert.Equal(t, 2, vs.count(vector.KindScenario))
	assert.Equal(t, 3, vs.count(vector.KindStep))

	// The upserted feature row is cross-linked and reused by scenarios.
	f, err := s.GetFeatureByName(context.Background(), "Login")
	require.NoError(t, err)
	assert.NotEmpty(t, f.VectorID)
	assert.Equal(t, "features/login.feature", f.FilePath)

	// The run row carries its vector reference.
	run, err := s.GetRun(context.Background(), result.TestRunID)
	require.NoError(t, err)
	assert.NotEmpty(t, run.VectorID)
}

func TestCoordinator_DuplicateShortCircuits(t *testing.T) {
	s := setupStore(t)
	vs := newFakeVectorStore()
	c := ingest.NewCoordinator(testLogger(), s, vs, 2)

	first, err := c.IngestReport(context.Background(), sampleReport("uuid-dup"))
	require.NoError(t, err)

	second, err := c.IngestReport(context.Background(), sampleReport("uuid-dup"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TestRunID, second.TestRunID)

	// No children re-written on re-ingestion.
	assert.Zero(t, second.Scenarios)
	assert.Equal(t, 1, vs.count(vector.KindReport))
	assert.Equal(t, 2, vs.count(vector.KindScenario))
}

func TestCoordinator_VectorFailureLeavesRelationalCommitted(t *testing.T) {
	s := setupStore(t)
	vs := newFakeVectorStore()
	vs.failing = true

	c := ingest.NewCoordinator(testLogger(), s, vs, 2)

	// A vector outage must not fail ingestion.
	result, err := c.IngestReport(context.Background(), sampleReport("uuid-deg"))
	require.NoError(t, err)

	assert.Equal(t, ingest.RelationalCommitted, result.RunState)
	assert.Equal(t, 2, result.Scenarios)
	assert.Equal(t, 2, result.Degraded)
	assert.Zero(t, result.FullyLinked)

	// Steps cannot resolve their parent without the scenario vector id.
	assert.Zero(t, result.Steps)
	assert.Equal(t, 3, result.StepsSkip)

	// Relational rows exist regardless.
	run, err := s.GetRun(context.Background(), result.TestRunID)
	require.NoError(t, err)
	assert.Empty(t, run.VectorID)
}

func TestCoordinator_NilVectorStore(t *testing.T) {
	s := setupStore(t)
	c := ingest.NewCoordinator(testLogger(), s, nil, 2)

	result, err := c.IngestReport(context.Background(), sampleReport("uuid-nil"))
	require.NoError(t, err)

	assert.Equal(t, ingest.RelationalCommitted, result.RunState)
	assert.Equal(t, 2, result.Scenarios)
	assert.Equal(t, 2, result.Degraded)
}

func TestCoordinator_IngestBuildInfo(t *testing.T) {
	s := setupStore(t)
	vs := newFakeVectorStore()
	c := ingest.NewCoordinator(testLogger(), s, vs, 2)

	id, err := c.IngestBuildInfo(context.Background(), &domain.BuildInfo{
		ProjectName: "Webshop",
		BuildNumber: "1042",
		Status:      domain.StatusPassed,
		StartedAt:   time.Now().UTC().Add(-time.Minute),
		EndedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	assert.Equal(t, 1, vs.count(vector.KindBuild))
}

func TestLinkState_String(t *testing.T) {
	assert.Equal(t, "pending", ingest.Pending.String())
	assert.Equal(t, "relational_committed", ingest.RelationalCommitted.String())
	assert.Equal(t, "fully_linked", ingest.FullyLinked.String())
}

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/fridayops/friday/pkg/domain"
	"github.com/fridayops/friday/pkg/store"
	"github.com/fridayops/friday/pkg/vector"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LinkState tracks how far an entity's dual write has progressed.
// There is no distributed transaction across the relational and vector
// stores; cross-store consistency is best-effort and eventually
// reconciled, not strict.
type LinkState int

const (
	// Pending: no store has accepted the entity yet.
	Pending LinkState = iota

	// RelationalCommitted: the relational row exists but the vector
	// write failed or was skipped; the row lacks a vector_id. This is a
	// recognized degraded state, surfaced via logs and result counts.
	RelationalCommitted

	// FullyLinked: both stores hold the entity and the relational row
	// carries the vector id.
	FullyLinked
)

// String implements fmt.Stringer.
func (s LinkState) String() string {
	switch s {
	case RelationalCommitted:
		return "relational_committed"
	case FullyLinked:
		return "fully_linked"
	default:
		return "pending"
	}
}

// Result summarizes one report ingestion call.
type Result struct {
	TestRunID   uint          `json:"test_run_id"`
	Duplicate   bool          `json:"duplicate"`
	Counts      domain.Counts `json:"-"`
	RunState    LinkState     `json:"-"`
	Features    int           `json:"features"`
	Scenarios   int           `json:"scenarios"`
	Steps       int           `json:"steps"`
	StepsSkip   int           `json:"steps_skipped"`
	FullyLinked int           `json:"fully_linked"`
	Degraded    int           `json:"relational_only"`
}

// Coordinator sequences the relational write before the vector write for
// every ingested entity: the relational id is metadata on the vector
// entry, and the vector id is patched back into the relational row.
type Coordinator struct {
	log         logrus.FieldLogger
	store       store.Store
	vector      vector.Store
	concurrency int
}

// NewCoordinator creates a dual-write coordinator. A nil vector store is
// allowed: every entity then stays RelationalCommitted.
func NewCoordinator(
	log logrus.FieldLogger,
	st store.Store,
	vs vector.Store,
	concurrency int,
) *Coordinator {
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Coordinator{
		log:         log.WithField("component", "coordinator"),
		store:       st,
		vector:      vs,
		concurrency: concurrency,
	}
}

// IngestReport writes a parsed report and all of its scenarios and steps
// to both stores. A relational failure aborts and propagates; a vector
// failure leaves the affected entity RelationalCommitted and the call
// succeeds. Independent scenarios are processed concurrently, bounded by
// the configured worker limit; steps are sequential within a scenario
// because their parent lookup depends on the scenario's vector id.
func (c *Coordinator) IngestReport(
	ctx context.Context, r *domain.Report,
) (*Result, error) {
	runID, duplicate, err := c.store.StoreReport(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("storing report: %w", err)
	}

	result := &Result{
		TestRunID: runID,
		Duplicate: duplicate,
		Counts:    r.Counts(),
		RunState:  RelationalCommitted,
	}

	if duplicate {
		// Idempotent re-ingestion: the run and its children already
		// exist, nothing more to write.
		return result, nil
	}

	if vid := c.upsertVector(ctx, reportText(r), map[string]any{
		vector.PayloadKind:    vector.KindReport,
		vector.PayloadProject: r.ProjectName,
		vector.PayloadStatus:  string(r.Status()),
		vector.PayloadTitle:   r.Name,
		vector.PayloadPGID:    int64(runID),
	}); vid != "" {
		if err := c.store.UpdateRunVector(ctx, runID, vid); err != nil {
			c.log.WithError(err).WithField("test_run_id", runID).
				Warn("Failed to patch run vector reference")
		} else {
			result.RunState = FullyLinked
		}
	}

	// Features first so scenario ingestion reuses the upserted rows
	// instead of auto-creating bare ones.
	for i := range r.Features {
		if err := c.ingestFeature(ctx, r, &r.Features[i]); err != nil {
			return nil, fmt.Errorf(
				"ingesting feature %q: %w", r.Features[i].Name, err,
			)
		}

		result.Features++
	}

	var (
		scenarios, steps, stepsSkipped atomic.Int64
		fullyLinked, degraded          atomic.Int64
	)

	runRef := strconv.FormatUint(uint64(runID), 10)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := range r.Scenarios {
		sc := &r.Scenarios[i]

		g.Go(func() error {
			stored, skipped, linked, err := c.ingestScenario(
				gCtx, r, sc, runRef,
			)
			if err != nil {
				return err
			}

			scenarios.Add(1)
			steps.Add(int64(stored))
			stepsSkipped.Add(int64(skipped))

			if linked {
				fullyLinked.Add(1)
			} else {
				degraded.Add(1)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingesting scenarios: %w", err)
	}

	result.Scenarios = int(scenarios.Load())
	result.Steps = int(steps.Load())
	result.StepsSkip = int(stepsSkipped.Load())
	result.FullyLinked = int(fullyLinked.Load())
	result.Degraded = int(degraded.Load())

	c.log.WithFields(logrus.Fields{
		"test_run_id":  runID,
		"scenarios":    result.Scenarios,
		"steps":        result.Steps,
		"fully_linked": result.FullyLinked,
		"degraded":     result.Degraded,
	}).Info("Report ingested")

	return result, nil
}

// ingestScenario dual-writes one scenario and its steps. Returns the
// number of steps stored and skipped, and whether the scenario reached
// FullyLinked.
func (c *Coordinator) ingestScenario(
	ctx context.Context,
	r *domain.Report,
	sc *domain.Scenario,
	runRef string,
) (stored, skipped int, linked bool, err error) {
	scID, err := c.store.StoreTestCase(ctx, sc, runRef)
	if err != nil {
		return 0, 0, false, fmt.Errorf(
			"storing scenario %q: %w", sc.Name, err,
		)
	}

	if err := c.store.StoreScenarioTags(ctx, scID, sc.Tags); err != nil {
		return 0, 0, false, fmt.Errorf(
			"storing tags for scenario %q: %w", sc.Name, err,
		)
	}

	vid := c.upsertVector(ctx, scenarioText(r, sc), map[string]any{
		vector.PayloadKind:    vector.KindScenario,
		vector.PayloadProject: r.ProjectName,
		vector.PayloadFeature: sc.FeatureName,
		vector.PayloadStatus:  string(sc.Status),
		vector.PayloadTags:    tagValues(sc.Tags),
		vector.PayloadTitle:   sc.Name,
		vector.PayloadPGID:    int64(scID),
	})
	if vid == "" {
		// Without the scenario's vector id, step writes cannot resolve
		// their parent; the scenario and its steps stay relational-only.
		c.log.WithField("scenario", sc.Name).
			Warn("Scenario vector write failed, steps not ingested")

		return 0, len(sc.Steps), false, nil
	}

	if err := c.store.UpdateScenarioVector(ctx, scID, vid); err != nil {
		return 0, len(sc.Steps), false, fmt.Errorf(
			"patching scenario vector reference: %w", err,
		)
	}

	for i := range sc.Steps {
		st := &sc.Steps[i]

		stepID, err := c.store.StoreTestStep(ctx, st, vid)
		if err != nil {
			return stored, skipped, false, fmt.Errorf(
				"storing step %q: %w", st.Name, err,
			)
		}

		if stepID == 0 {
			skipped++

			continue
		}

		stored++

		if stepVID := c.upsertVector(ctx, stepText(sc, st), map[string]any{
			vector.PayloadKind:    vector.KindStep,
			vector.PayloadProject: r.ProjectName,
			vector.PayloadFeature: sc.FeatureName,
			vector.PayloadStatus:  string(st.Status),
			vector.PayloadTitle:   st.Keyword + " " + st.Name,
			vector.PayloadPGID:    int64(stepID),
		}); stepVID != "" {
			if err := c.store.UpdateStepVector(ctx, stepID, stepVID); err != nil {
				c.log.WithError(err).WithField("step", st.Name).
					Warn("Failed to patch step vector reference")
			}
		}
	}

	return stored, skipped, true, nil
}

// ingestFeature upserts a feature row (last-write-wins on description,
// file path, and tags) and dual-writes its vector entry.
func (c *Coordinator) ingestFeature(
	ctx context.Context, r *domain.Report, f *domain.FeatureInfo,
) error {
	tags, err := json.Marshal(f.Tags)
	if err != nil {
		return fmt.Errorf("encoding feature tags: %w", err)
	}

	row := store.Feature{
		Name:        f.Name,
		Description: f.Description,
		FilePath:    f.FilePath,
		TagsJSON:    string(tags),
	}

	id, err := c.store.StoreFeature(ctx, &row)
	if err != nil {
		return err
	}

	if vid := c.upsertVector(ctx, featureText(r, f), map[string]any{
		vector.PayloadKind:    vector.KindFeature,
		vector.PayloadProject: r.ProjectName,
		vector.PayloadFeature: f.Name,
		vector.PayloadTags:    tagValues(f.Tags),
		vector.PayloadTitle:   f.Name,
		vector.PayloadPGID:    int64(id),
	}); vid != "" {
		if err := c.store.UpdateFeatureVector(ctx, id, vid); err != nil {
			c.log.WithError(err).WithField("feature", f.Name).
				Warn("Failed to patch feature vector reference")
		}
	}

	return nil
}

// IngestBuildInfo dual-writes CI build metadata.
func (c *Coordinator) IngestBuildInfo(
	ctx context.Context, b *domain.BuildInfo,
) (uint, error) {
	id, err := c.store.StoreBuildInfo(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("storing build info: %w", err)
	}

	if vid := c.upsertVector(ctx, buildText(b), map[string]any{
		vector.PayloadKind:    vector.KindBuild,
		vector.PayloadProject: b.ProjectName,
		vector.PayloadStatus:  string(b.Status),
		vector.PayloadTitle:   "Build " + b.BuildNumber,
		vector.PayloadPGID:    int64(id),
	}); vid != "" {
		if err := c.store.UpdateBuildVector(ctx, id, vid); err != nil {
			c.log.WithError(err).WithField("build_info_id", id).
				Warn("Failed to patch build vector reference")
		}
	}

	return id, nil
}

// upsertVector attempts the vector-store write. Failures are logged and
// swallowed; the caller sees the empty id and leaves the entity in the
// RelationalCommitted state. No automatic retry.
func (c *Coordinator) upsertVector(
	ctx context.Context, text string, payload map[string]any,
) string {
	if c.vector == nil {
		return ""
	}

	vid, err := c.vector.Upsert(ctx, text, payload)
	if err != nil {
		c.log.WithError(err).
			WithField("title", payload[vector.PayloadTitle]).
			Warn("Vector write failed, entity left relational-only")

		return ""
	}

	return vid
}

// tagValues strips the leading @ so vector payload tags match the
// relational tag associations.
func tagValues(tags []string) []any {
	out := make([]any, 0, len(tags))

	for _, t := range tags {
		if len(t) > 0 && t[0] == '@' {
			t = t[1:]
		}

		out = append(out, t)
	}

	return out
}

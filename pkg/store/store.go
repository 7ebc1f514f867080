package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fridayops/friday/pkg/config"
	"github.com/fridayops/friday/pkg/domain"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store translates domain objects into persisted rows, handling
// parent-entity resolution and vector cross-references.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Ingestion writes.
	StoreReport(ctx context.Context, r *domain.Report) (uint, bool, error)
	StoreTestCase(ctx context.Context, sc *domain.Scenario, runRef string) (uint, error)
	StoreScenarioTags(ctx context.Context, scenarioID uint, tags []string) error
	StoreTestStep(ctx context.Context, st *domain.Step, scenarioQdrantID string) (uint, error)
	StoreBuildInfo(ctx context.Context, b *domain.BuildInfo) (uint, error)
	StoreFeature(ctx context.Context, f *Feature) (uint, error)

	// Vector cross-link patches.
	UpdateRunVector(ctx context.Context, id uint, vectorID string) error
	UpdateScenarioVector(ctx context.Context, id uint, vectorID string) error
	UpdateStepVector(ctx context.Context, id uint, vectorID string) error
	UpdateBuildVector(ctx context.Context, id uint, vectorID string) error
	UpdateFeatureVector(ctx context.Context, id uint, vectorID string) error

	// Lookups.
	ResolveRunID(ctx context.Context, ref string) (uint, error)
	GetRun(ctx context.Context, id uint) (*TestRun, error)
	GetRunByUUID(ctx context.Context, uuid string) (*TestRun, error)
	GetScenario(ctx context.Context, id uint) (*Scenario, error)
	ListScenarioTags(ctx context.Context, scenarioID uint) ([]string, error)
	CountSteps(ctx context.Context, scenarioID uint) (int64, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	GetFeatureByName(ctx context.Context, name string) (*Feature, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Project{},
		&Feature{},
		&TestRun{},
		&Scenario{},
		&ScenarioTag{},
		&TestStep{},
		&BuildInfo{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Ingestion writes ---

// StoreReport persists a test run. Re-ingestion of a report with a known
// OriginalUUID is idempotent: the existing row's id is returned with the
// duplicate flag set. Project auto-creation failure is downgraded to a
// null project reference rather than failing the whole operation.
func (s *store) StoreReport(
	ctx context.Context, r *domain.Report,
) (uint, bool, error) {
	if r.OriginalUUID != "" {
		existing, err := s.GetRunByUUID(ctx, r.OriginalUUID)
		if err == nil {
			s.log.WithField("original_uuid", r.OriginalUUID).
				WithField("test_run_id", existing.ID).
				Info("Report already ingested, returning existing run")

			return existing.ID, true, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, fmt.Errorf("checking for existing run: %w", err)
		}
	}

	projectID := s.resolveProject(ctx, r.ProjectName, SourceReportIngestion)

	counts := r.Counts()
	started := r.Timestamp
	ended := r.EndedAt

	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return 0, false, fmt.Errorf("encoding run metadata: %w", err)
	}

	run := TestRun{
		Name:         r.Name,
		Status:       string(r.Status()),
		ProjectID:    projectID,
		Environment:  r.Environment,
		StartedAt:    &started,
		DurationMS:   r.Duration().Milliseconds(),
		TotalTests:   counts.Total,
		PassedTests:  counts.Passed,
		FailedTests:  counts.Failed,
		SkippedTests: counts.Skipped,
		ErrorTests:   counts.Errors,
		SuccessRate:  counts.SuccessRate(),
		Branch:       r.Branch,
		CommitSHA:    r.CommitSHA,
		Metadata:     meta,
	}

	if r.OriginalUUID != "" {
		u := r.OriginalUUID
		run.OriginalUUID = &u
	}

	if !ended.IsZero() {
		run.EndedAt = &ended
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return 0, false, fmt.Errorf("creating test run: %w", err)
	}

	return run.ID, false, nil
}

// ResolveRunID translates a run reference, which may be a numeric id or
// a UUID string, into the numeric TestRun id. UUID references that match
// no run fail loudly.
func (s *store) ResolveRunID(
	ctx context.Context, ref string,
) (uint, error) {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return uint(id), nil
	}

	run, err := s.GetRunByUUID(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("no test run matches reference %q: %w", ref, err)
	}

	return run.ID, nil
}

// StoreTestCase persists a scenario, resolving its run reference and
// resolving or creating its owning feature by exact name.
func (s *store) StoreTestCase(
	ctx context.Context, sc *domain.Scenario, runRef string,
) (uint, error) {
	runID, err := s.ResolveRunID(ctx, runRef)
	if err != nil {
		return 0, err
	}

	featureName := sc.FeatureName
	if featureName == "" {
		featureName = UnknownFeatureName
	}

	featureID := s.resolveFeature(ctx, featureName)

	params, err := json.Marshal(sc.Parameters)
	if err != nil {
		return 0, fmt.Errorf("encoding scenario parameters: %w", err)
	}

	// Record the originating system's identifier so later writes can
	// find this row without knowing the numeric id.
	meta, err := encodeMetadata(map[string]any{
		"original_id": sc.OriginalID,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding scenario metadata: %w", err)
	}

	row := Scenario{
		Name:         sc.Name,
		Description:  sc.Description,
		Status:       string(sc.Status),
		TestRunID:    runID,
		FeatureID:    featureID,
		DurationMS:   sc.Duration.Milliseconds(),
		ErrorMessage: sc.ErrorMessage,
		StackTrace:   sc.StackTrace,
		Parameters:   string(params),
		Metadata:     meta,
	}

	if !sc.StartedAt.IsZero() {
		started := sc.StartedAt
		row.StartedAt = &started
	}

	if !sc.EndedAt.IsZero() {
		ended := sc.EndedAt
		row.EndedAt = &ended
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("creating scenario: %w", err)
	}

	return row.ID, nil
}

// StoreScenarioTags associates tags with a scenario. Leading @ markers
// are stripped; duplicate pairs are silently ignored; an empty tag list
// is a no-op.
func (s *store) StoreScenarioTags(
	ctx context.Context, scenarioID uint, tags []string,
) error {
	if len(tags) == 0 {
		return nil
	}

	rows := make([]ScenarioTag, 0, len(tags))

	for _, tag := range tags {
		tag = strings.TrimPrefix(tag, "@")
		if tag == "" {
			continue
		}

		rows = append(rows, ScenarioTag{ScenarioID: scenarioID, Tag: tag})
	}

	if len(rows) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error; err != nil {
		return fmt.Errorf("storing scenario tags: %w", err)
	}

	return nil
}

// StoreTestStep persists a step under the scenario identified by the
// given vector-store id. A missing parent is a recognized partial-failure
// path: the write is skipped with a warning, not an error.
func (s *store) StoreTestStep(
	ctx context.Context, st *domain.Step, scenarioQdrantID string,
) (uint, error) {
	if scenarioQdrantID == "" {
		s.log.WithField("step", st.Name).
			Warn("Step has no parent vector reference, skipping write")

		return 0, nil
	}

	var parent Scenario

	err := s.db.WithContext(ctx).
		Where("qdrant_id = ?", scenarioQdrantID).
		First(&parent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithField("qdrant_id", scenarioQdrantID).
				WithField("step", st.Name).
				Warn("No scenario matches step parent reference, skipping write")

			return 0, nil
		}

		return 0, fmt.Errorf("resolving step parent: %w", err)
	}

	position := st.Position
	if position == 0 {
		count, err := s.CountSteps(ctx, parent.ID)
		if err != nil {
			return 0, err
		}

		position = int(count) + 1
	}

	row := TestStep{
		ScenarioID:    parent.ID,
		Name:          st.Name,
		Keyword:       st.Keyword,
		Status:        string(st.Status),
		Position:      position,
		DurationMS:    st.Duration.Milliseconds(),
		ErrorMessage:  st.ErrorMessage,
		ScreenshotURL: st.ScreenshotURL,
		LogOutput:     st.LogOutput,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("creating test step: %w", err)
	}

	return row.ID, nil
}

// StoreBuildInfo persists CI build metadata, resolving the project by name.
func (s *store) StoreBuildInfo(
	ctx context.Context, b *domain.BuildInfo,
) (uint, error) {
	projectID := s.resolveProject(ctx, b.ProjectName, SourceReportIngestion)

	meta, err := encodeMetadata(b.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encoding build metadata: %w", err)
	}

	row := BuildInfo{
		ProjectID:   projectID,
		BuildNumber: b.BuildNumber,
		Name:        b.Name,
		Status:      string(b.Status),
		Branch:      b.Branch,
		CommitSHA:   b.CommitSHA,
		Environment: b.Environment,
		Metadata:    meta,
	}

	if !b.StartedAt.IsZero() {
		started := b.StartedAt
		row.StartedAt = &started
	}

	if !b.EndedAt.IsZero() {
		ended := b.EndedAt
		row.EndedAt = &ended
		row.DurationMS = b.EndedAt.Sub(b.StartedAt).Milliseconds()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("creating build info: %w", err)
	}

	return row.ID, nil
}

// StoreFeature upserts a feature by name. An existing row keeps its id;
// description, file path, and tags are overwritten (last-write-wins).
func (s *store) StoreFeature(
	ctx context.Context, f *Feature,
) (uint, error) {
	// Assigns go through a map: struct-based assigns skip zero values,
	// which would turn the overwrite into a merge for emptied fields.
	result := s.db.WithContext(ctx).
		Where("name = ?", f.Name).
		Assign(map[string]any{
			"description": f.Description,
			"file_path":   f.FilePath,
			"tags_json":   f.TagsJSON,
			"project_id":  f.ProjectID,
		}).
		FirstOrCreate(f)
	if result.Error != nil {
		return 0, fmt.Errorf("upserting feature: %w", result.Error)
	}

	return f.ID, nil
}

// --- Vector cross-link patches ---

// UpdateRunVector patches the run row with its vector-store id. The
// vector_id key is merged into the metadata blob so other keys survive.
func (s *store) UpdateRunVector(
	ctx context.Context, id uint, vectorID string,
) error {
	return s.patchVector(ctx, &TestRun{}, id, vectorID, nil)
}

// UpdateScenarioVector patches the scenario row with its vector-store id.
// QdrantID is set alongside VectorID because step ingestion locates the
// parent scenario through it.
func (s *store) UpdateScenarioVector(
	ctx context.Context, id uint, vectorID string,
) error {
	return s.patchVector(ctx, &Scenario{}, id, vectorID,
		map[string]any{"qdrant_id": vectorID})
}

// UpdateStepVector patches the step row with its vector-store id.
func (s *store) UpdateStepVector(
	ctx context.Context, id uint, vectorID string,
) error {
	return s.patchVector(ctx, &TestStep{}, id, vectorID, nil)
}

// UpdateBuildVector patches the build row with its vector-store id.
func (s *store) UpdateBuildVector(
	ctx context.Context, id uint, vectorID string,
) error {
	return s.patchVector(ctx, &BuildInfo{}, id, vectorID, nil)
}

// UpdateFeatureVector patches the feature row with its vector-store id.
func (s *store) UpdateFeatureVector(
	ctx context.Context, id uint, vectorID string,
) error {
	return s.patchVector(ctx, &Feature{}, id, vectorID, nil)
}

// patchVector merges vector_id into the row's metadata and sets the
// VectorID column (plus any extra columns) in one update.
func (s *store) patchVector(
	ctx context.Context,
	model any,
	id uint,
	vectorID string,
	extraColumns map[string]any,
) error {
	var current struct {
		Metadata string
	}

	if err := s.db.WithContext(ctx).
		Model(model).
		Select("metadata").
		Where("id = ?", id).
		First(&current).Error; err != nil {
		return fmt.Errorf("loading metadata for vector patch: %w", err)
	}

	merged, err := mergeMetadata(current.Metadata, map[string]any{
		"vector_id": vectorID,
	})
	if err != nil {
		return fmt.Errorf("merging vector metadata: %w", err)
	}

	updates := map[string]any{
		"vector_id": vectorID,
		"metadata":  merged,
	}

	for k, v := range extraColumns {
		updates[k] = v
	}

	if err := s.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("patching vector reference: %w", err)
	}

	return nil
}

// --- Lookups ---

func (s *store) GetRun(ctx context.Context, id uint) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("getting test run: %w", err)
	}

	return &run, nil
}

func (s *store) GetRunByUUID(
	ctx context.Context, uuid string,
) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).
		Where("original_uuid = ?", uuid).
		First(&run).Error; err != nil {
		return nil, err
	}

	return &run, nil
}

func (s *store) GetScenario(
	ctx context.Context, id uint,
) (*Scenario, error) {
	var sc Scenario
	if err := s.db.WithContext(ctx).First(&sc, id).Error; err != nil {
		return nil, fmt.Errorf("getting scenario: %w", err)
	}

	return &sc, nil
}

func (s *store) ListScenarioTags(
	ctx context.Context, scenarioID uint,
) ([]string, error) {
	var tags []string
	if err := s.db.WithContext(ctx).
		Model(&ScenarioTag{}).
		Where("scenario_id = ?", scenarioID).
		Order("tag ASC").
		Pluck("tag", &tags).Error; err != nil {
		return nil, fmt.Errorf("listing scenario tags: %w", err)
	}

	return tags, nil
}

func (s *store) CountSteps(
	ctx context.Context, scenarioID uint,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&TestStep{}).
		Where("scenario_id = ?", scenarioID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting steps: %w", err)
	}

	return count, nil
}

func (s *store) GetProjectByName(
	ctx context.Context, name string,
) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&p).Error; err != nil {
		return nil, fmt.Errorf("getting project by name: %w", err)
	}

	return &p, nil
}

func (s *store) GetFeatureByName(
	ctx context.Context, name string,
) (*Feature, error) {
	var f Feature
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&f).Error; err != nil {
		return nil, fmt.Errorf("getting feature by name: %w", err)
	}

	return &f, nil
}

// --- Parent resolution ---

// resolveProject looks up a project by name, inserting it if absent.
// The insert uses ON CONFLICT DO NOTHING against the unique name index
// so concurrent first references resolve at the database layer; a
// follow-up select picks up the winner's row. Failure is downgraded to
// a nil reference.
func (s *store) resolveProject(
	ctx context.Context, name, source string,
) *uint {
	if name == "" {
		name = DefaultProjectName
	}

	meta, _ := encodeMetadata(map[string]any{
		"auto_created": true,
		"source":       source,
	})

	p := Project{
		Name:     name,
		Active:   true,
		Metadata: meta,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&p).Error
	if err != nil {
		s.log.WithError(err).
			WithField("project", name).
			Warn("Project auto-creation failed, storing with null project")

		return nil
	}

	if p.ID == 0 {
		// Conflict path: another writer won the insert.
		existing, err := s.GetProjectByName(ctx, name)
		if err != nil {
			s.log.WithError(err).
				WithField("project", name).
				Warn("Project lookup after conflict failed, storing with null project")

			return nil
		}

		return &existing.ID
	}

	return &p.ID
}

// resolveFeature looks up a feature by exact name, inserting a
// provenance-flagged row if absent. Same conflict handling as projects.
func (s *store) resolveFeature(
	ctx context.Context, name string,
) *uint {
	meta, _ := encodeMetadata(map[string]any{
		"auto_created": true,
		"source":       SourceTestCaseIngestion,
	})

	f := Feature{
		Name:     name,
		Metadata: meta,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&f).Error
	if err != nil {
		s.log.WithError(err).
			WithField("feature", name).
			Warn("Feature auto-creation failed, storing with null feature")

		return nil
	}

	if f.ID == 0 {
		existing, err := s.GetFeatureByName(ctx, name)
		if err != nil {
			s.log.WithError(err).
				WithField("feature", name).
				Warn("Feature lookup after conflict failed, storing with null feature")

			return nil
		}

		return &existing.ID
	}

	return &f.ID
}

// --- Metadata helpers ---

// encodeMetadata serializes a metadata map as JSON, empty map included
// so the column is always valid JSON.
func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// mergeMetadata merges extra keys into an existing JSON metadata blob,
// preserving keys not named in extra.
func mergeMetadata(existing string, extra map[string]any) (string, error) {
	m := map[string]any{}

	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &m); err != nil {
			return "", fmt.Errorf("decoding existing metadata: %w", err)
		}
	}

	for k, v := range extra {
		m[k] = v
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

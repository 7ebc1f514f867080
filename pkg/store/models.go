package store

import (
	"time"
)

// Provenance values recorded in metadata for auto-created parent rows.
const (
	SourceReportIngestion   = "report-ingestion"
	SourceTestCaseIngestion = "testcase-ingestion"
)

// DefaultProjectName is used when a report names no project.
const DefaultProjectName = "Default Project"

// UnknownFeatureName is used when a scenario names no feature.
const UnknownFeatureName = "Unknown"

// Project is a top-level grouping of test runs. Projects are auto-created
// on first reference by name; the unique index makes the concurrent
// lookup-or-create race resolve at the database layer.
type Project struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"uniqueIndex;not null" json:"name"`
	Description   string `json:"description"`
	RepositoryURL string `json:"repository_url"`
	Active        bool   `gorm:"default:true" json:"active"`

	// Free-form metadata serialized as JSON. Auto-created rows carry
	// auto_created and source keys.
	Metadata string `gorm:"type:text" json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feature is a Cucumber feature, upserted by name with last-write-wins
// semantics for description, file path, and tags.
type Feature struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	ProjectID   *uint  `gorm:"index" json:"project_id"`
	FilePath    string `json:"file_path"`

	// Tag names serialized as a JSON array.
	TagsJSON string `gorm:"type:text" json:"tags"`

	VectorID string `json:"vector_id"`
	Metadata string `gorm:"type:text" json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TestRun is one executed test suite invocation with aggregate counts.
// OriginalUUID is the idempotency key for re-ingestion: it is a real
// indexed column rather than a value buried in the metadata blob, so
// the at-most-one-row-per-UUID property holds under concurrent writes.
type TestRun struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Status      string `gorm:"index" json:"status"`
	ProjectID   *uint  `gorm:"index" json:"project_id"`
	Environment string `json:"environment"`

	StartedAt  *time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	DurationMS int64      `json:"duration_ms"`

	TotalTests   int     `json:"total_tests"`
	PassedTests  int     `json:"passed_tests"`
	FailedTests  int     `json:"failed_tests"`
	SkippedTests int     `json:"skipped_tests"`
	ErrorTests   int     `json:"error_tests"`
	SuccessRate  float64 `json:"success_rate"`

	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha"`

	// Nullable so runs submitted without a UUID do not collide on the
	// unique index.
	OriginalUUID *string `gorm:"uniqueIndex" json:"original_uuid"`

	VectorID string `json:"vector_id"`
	Metadata string `gorm:"type:text" json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scenario is one scenario's execution result within a test run.
// QdrantID is the vector-store cross-reference; steps arriving after the
// scenario locate their parent through it, so it is indexed.
type Scenario struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"index" json:"status"`
	TestRunID   uint   `gorm:"index;not null" json:"test_run_id"`
	FeatureID   *uint  `gorm:"index" json:"feature_id"`

	StartedAt  *time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	DurationMS int64      `json:"duration_ms"`

	ErrorMessage string `gorm:"type:text" json:"error_message"`
	StackTrace   string `gorm:"type:text" json:"stack_trace"`

	// Parameters serialized as a JSON object.
	Parameters string `gorm:"type:text" json:"parameters"`

	QdrantID string `gorm:"index" json:"qdrant_id"`
	VectorID string `json:"vector_id"`
	Metadata string `gorm:"type:text" json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScenarioTag associates a tag with a scenario. The composite unique
// index makes tag storage idempotent.
type ScenarioTag struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ScenarioID uint   `gorm:"not null;uniqueIndex:idx_scenario_tag" json:"scenario_id"`
	Tag        string `gorm:"not null;uniqueIndex:idx_scenario_tag" json:"tag"`
}

// TestStep is one Given/When/Then line's execution result.
type TestStep struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ScenarioID uint   `gorm:"index;not null" json:"scenario_id"`
	Name       string `gorm:"not null" json:"name"`
	Keyword    string `json:"keyword"`
	Status     string `json:"status"`
	Position   int    `json:"position"`

	StartedAt  *time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	DurationMS int64      `json:"duration_ms"`

	ErrorMessage  string `gorm:"type:text" json:"error_message"`
	StackTrace    string `gorm:"type:text" json:"stack_trace"`
	ScreenshotURL string `json:"screenshot_url"`
	LogOutput     string `gorm:"type:text" json:"log_output"`

	VectorID string `json:"vector_id"`
	Metadata string `gorm:"type:text" json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BuildInfo describes the CI build that produced a test run.
type BuildInfo struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ProjectID   *uint  `gorm:"index" json:"project_id"`
	BuildNumber string `gorm:"index" json:"build_number"`
	Name        string `json:"name"`
	Status      string `json:"status"`

	StartedAt  *time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	DurationMS int64      `json:"duration_ms"`

	Branch      string `json:"branch"`
	CommitSHA   string `json:"commit_sha"`
	Environment string `json:"environment"`

	VectorID string `json:"vector_id"`
	Metadata string `gorm:"type:text" json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package generator

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/fridayops/friday/pkg/domain"
	"github.com/google/uuid"
)

// Options configure synthetic report generation.
type Options struct {
	Project      string
	Features     int
	Scenarios    int // per feature
	Steps        int // per scenario
	FailureRate  float64
	FlakyRate    float64
	Seed         int64
	Environment  string
	Branch       string
}

// applyDefaults fills zero-valued options.
func (o *Options) applyDefaults() {
	if o.Project == "" {
		o.Project = "Synthetic Project"
	}

	if o.Features <= 0 {
		o.Features = 3
	}

	if o.Scenarios <= 0 {
		o.Scenarios = 5
	}

	if o.Steps <= 0 {
		o.Steps = 4
	}

	if o.Environment == "" {
		o.Environment = "staging"
	}

	if o.Branch == "" {
		o.Branch = "main"
	}
}

// Report is the generated output: Cucumber-JSON features plus the
// sideband metadata the ingestion endpoint expects.
type Report struct {
	Project     string                   `json:"project"`
	Environment string                   `json:"environment"`
	Branch      string                   `json:"branch"`
	UUID        string                   `json:"uuid"`
	Timestamp   string                   `json:"timestamp"`
	Features    []domain.CucumberFeature `json:"report"`
}

// Generate produces a synthetic Cucumber-JSON report. Scenario outcomes
// are fully determined by the scenario identity and the seed: a stable
// scenario fails iff its identity hash falls below the failure rate; a
// flaky scenario's outcome additionally mixes in the seed, so it varies
// across runs but is deterministic within one.
func Generate(opts Options) *Report {
	opts.applyDefaults()

	report := &Report{
		Project:     opts.Project,
		Environment: opts.Environment,
		Branch:      opts.Branch,
		UUID:        uuid.NewString(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	for f := 0; f < opts.Features; f++ {
		feature := domain.CucumberFeature{
			URI:  fmt.Sprintf("features/feature_%d.feature", f),
			ID:   fmt.Sprintf("feature-%d", f),
			Name: fmt.Sprintf("Feature %d", f),
			Tags: []domain.CucumberTag{{Name: "@synthetic"}},
		}

		for s := 0; s < opts.Scenarios; s++ {
			scenarioID := fmt.Sprintf("feature-%d;scenario-%d", f, s)
			failed := scenarioFails(scenarioID, opts)

			feature.Elements = append(
				feature.Elements,
				buildScenario(scenarioID, s, opts.Steps, failed),
			)
		}

		report.Features = append(report.Features, feature)
	}

	return report
}

// Marshal serializes the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding synthetic report: %w", err)
	}

	return b, nil
}

// scenarioFails decides a scenario's outcome. IsFlaky gates on a
// seed-independent identity hash so the flaky set is stable; the flaky
// outcome itself mixes in the seed.
func scenarioFails(id string, opts Options) bool {
	if IsFlaky(id, opts.FlakyRate) {
		return hashUnit(fmt.Sprintf("%s:%d", id, opts.Seed)) < 0.5
	}

	return hashUnit(id+":stable") < opts.FailureRate
}

// IsFlaky reports whether the scenario identity falls in the flaky
// bucket for the given rate.
func IsFlaky(id string, rate float64) bool {
	return hashUnit(id+":flaky") < rate
}

// hashUnit maps a string onto [0,1) via FNV-1a.
func hashUnit(s string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))

	return float64(h.Sum64()%100000) / 100000
}

// buildScenario emits one scenario with the requested step count. On a
// failing scenario, the last step fails and prior steps pass.
func buildScenario(
	id string, index, steps int, failed bool,
) domain.CucumberElement {
	element := domain.CucumberElement{
		ID:   id,
		Name: fmt.Sprintf("Scenario %d", index),
		Type: "scenario",
		Tags: []domain.CucumberTag{{Name: fmt.Sprintf("@case-%d", index)}},
	}

	keywords := []string{"Given ", "When ", "Then ", "And "}

	for i := 0; i < steps; i++ {
		status := "passed"
		errMsg := ""

		if failed && i == steps-1 {
			status = "failed"
			errMsg = fmt.Sprintf(
				"AssertionError: expected condition in %s step %d", id, i,
			)
		}

		element.Steps = append(element.Steps, domain.CucumberStep{
			Keyword: keywords[i%len(keywords)],
			Name:    fmt.Sprintf("step %d of %s", i, id),
			Result: domain.CucumberResult{
				Status:       status,
				Duration:     int64(50+i*25) * int64(time.Millisecond),
				ErrorMessage: errMsg,
			},
		})
	}

	return element
}

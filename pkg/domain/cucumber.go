package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidReport marks malformed report payloads. Callers should map it
// to a 4xx response; it is never retried.
var ErrInvalidReport = errors.New("invalid report")

// CucumberFeature is one feature entry in a Cucumber-JSON report.
type CucumberFeature struct {
	URI         string            `json:"uri"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        []CucumberTag     `json:"tags,omitempty"`
	Elements    []CucumberElement `json:"elements"`
}

// CucumberElement is one scenario within a feature.
type CucumberElement struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Tags        []CucumberTag  `json:"tags,omitempty"`
	Steps       []CucumberStep `json:"steps"`
}

// CucumberStep is one step within a scenario.
type CucumberStep struct {
	Keyword string          `json:"keyword"`
	Name    string          `json:"name"`
	Result  CucumberResult  `json:"result"`
	Embeds  []CucumberEmbed `json:"embeddings,omitempty"`
}

// CucumberResult carries the step outcome. Duration is in nanoseconds,
// following the Cucumber JSON formatter convention.
type CucumberResult struct {
	Status       string `json:"status"`
	Duration     int64  `json:"duration"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CucumberTag is a tag attached to a feature or scenario.
type CucumberTag struct {
	Name string `json:"name"`
}

// CucumberEmbed is an attachment (typically a screenshot) on a step.
type CucumberEmbed struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Sideband carries build metadata submitted alongside the Cucumber JSON.
type Sideband struct {
	Name        string
	Project     string
	Environment string
	Branch      string
	CommitSHA   string
	UUID        string
	Timestamp   string
}

// ParseCucumber converts a raw Cucumber-JSON document (an array of
// features) plus sideband build metadata into the canonical Report.
func ParseCucumber(data []byte, meta Sideband) (*Report, error) {
	var features []CucumberFeature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("%w: parsing cucumber json: %v", ErrInvalidReport, err)
	}

	if len(features) == 0 {
		return nil, fmt.Errorf("%w: report contains no features", ErrInvalidReport)
	}

	name := meta.Name
	if name == "" {
		name = "Test Run " + time.Now().UTC().Format("2006-01-02 15:04:05")
	}

	report := &Report{
		Name:         name,
		ProjectName:  meta.Project,
		Environment:  meta.Environment,
		Branch:       meta.Branch,
		CommitSHA:    meta.CommitSHA,
		OriginalUUID: meta.UUID,
		Timestamp:    ParseTimestamp(meta.Timestamp),
		Metadata:     map[string]any{},
	}

	for fi := range features {
		feature := &features[fi]
		if feature.Name == "" {
			return nil, fmt.Errorf(
				"%w: feature %d has no name", ErrInvalidReport, fi,
			)
		}

		info := FeatureInfo{
			Name:        feature.Name,
			Description: strings.TrimSpace(feature.Description),
			FilePath:    feature.URI,
		}

		for _, tag := range feature.Tags {
			info.Tags = append(info.Tags, strings.TrimPrefix(tag.Name, "@"))
		}

		report.Features = append(report.Features, info)

		for ei := range feature.Elements {
			element := &feature.Elements[ei]
			if element.Type != "" && element.Type != "scenario" &&
				element.Type != "scenario_outline" {
				continue
			}

			report.Scenarios = append(
				report.Scenarios,
				parseScenario(feature, element),
			)
		}
	}

	if len(report.Scenarios) == 0 {
		return nil, fmt.Errorf("%w: report contains no scenarios", ErrInvalidReport)
	}

	report.EndedAt = report.Timestamp.Add(report.Duration())

	return report, nil
}

// parseScenario flattens one Cucumber element into a domain Scenario.
func parseScenario(feature *CucumberFeature, element *CucumberElement) Scenario {
	sc := Scenario{
		OriginalID:  element.ID,
		Name:        element.Name,
		Description: strings.TrimSpace(element.Description),
		FeatureName: feature.Name,
		Status:      StatusPassed,
		Parameters:  map[string]string{},
	}

	for _, tag := range feature.Tags {
		sc.Tags = append(sc.Tags, tag.Name)
	}

	for _, tag := range element.Tags {
		sc.Tags = append(sc.Tags, tag.Name)
	}

	allSkipped := len(element.Steps) > 0

	for i, cs := range element.Steps {
		step := Step{
			Keyword:      strings.TrimSpace(cs.Keyword),
			Name:         cs.Name,
			Status:       mapStepStatus(cs.Result.Status),
			Position:     i + 1,
			Duration:     time.Duration(cs.Result.Duration),
			ErrorMessage: cs.Result.ErrorMessage,
		}

		for _, embed := range cs.Embeds {
			if strings.HasPrefix(embed.MimeType, "image/") {
				step.ScreenshotURL = embed.Data

				break
			}
		}

		sc.Steps = append(sc.Steps, step)
		sc.Duration += step.Duration

		switch step.Status {
		case StatusFailed:
			sc.Status = StatusFailed
			if sc.ErrorMessage == "" {
				sc.ErrorMessage = step.ErrorMessage
			}

			allSkipped = false
		case StatusPassed:
			allSkipped = false
		}
	}

	if allSkipped {
		sc.Status = StatusSkipped
	}

	return sc
}

// mapStepStatus maps Cucumber result statuses onto the domain enum.
// Pending and undefined steps count as skipped.
func mapStepStatus(status string) Status {
	switch strings.ToLower(status) {
	case "passed":
		return StatusPassed
	case "failed":
		return StatusFailed
	default:
		return StatusSkipped
	}
}

package ingest

import (
	"fmt"
	"strings"

	"github.com/fridayops/friday/pkg/domain"
)

// Text builders compose the human-readable chunks stored in the vector
// index. They favor plain sentences over structured dumps so retrieval
// works well for natural-language questions.

func reportText(r *domain.Report) string {
	c := r.Counts()

	var b strings.Builder

	fmt.Fprintf(&b,
		"Test run %q for project %q finished with status %s. ",
		r.Name, projectLabel(r.ProjectName), r.Status(),
	)
	fmt.Fprintf(&b,
		"%d of %d scenarios passed (%.1f%% success rate), %d failed, %d skipped.",
		c.Passed, c.Total, c.SuccessRate(), c.Failed, c.Skipped,
	)

	if r.Environment != "" {
		fmt.Fprintf(&b, " Environment: %s.", r.Environment)
	}

	if r.Branch != "" {
		fmt.Fprintf(&b, " Branch: %s.", r.Branch)
	}

	return b.String()
}

func scenarioText(r *domain.Report, sc *domain.Scenario) string {
	var b strings.Builder

	fmt.Fprintf(&b,
		"Scenario %q in feature %q %s",
		sc.Name, sc.FeatureName, statusVerb(sc.Status),
	)

	if len(sc.Tags) > 0 {
		fmt.Fprintf(&b, " Tags: %s.", strings.Join(sc.Tags, ", "))
	}

	if sc.ErrorMessage != "" {
		fmt.Fprintf(&b, " Error: %s", firstLine(sc.ErrorMessage))
	}

	if r.ProjectName != "" {
		fmt.Fprintf(&b, " Project: %s.", r.ProjectName)
	}

	return b.String()
}

func stepText(sc *domain.Scenario, st *domain.Step) string {
	var b strings.Builder

	fmt.Fprintf(&b,
		"Step %q %s in scenario %q %s",
		st.Name, st.Keyword, sc.Name, statusVerb(st.Status),
	)

	if st.ErrorMessage != "" {
		fmt.Fprintf(&b, " Error: %s", firstLine(st.ErrorMessage))
	}

	return b.String()
}

func featureText(r *domain.Report, f *domain.FeatureInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b,
		"Feature %q in project %q.",
		f.Name, projectLabel(r.ProjectName),
	)

	if f.Description != "" {
		fmt.Fprintf(&b, " %s", firstLine(f.Description))
	}

	if len(f.Tags) > 0 {
		fmt.Fprintf(&b, " Tags: %s.", strings.Join(f.Tags, ", "))
	}

	return b.String()
}

func buildText(b *domain.BuildInfo) string {
	return fmt.Sprintf(
		"Build %s for project %q on branch %s finished with status %s.",
		b.BuildNumber, projectLabel(b.ProjectName), b.Branch, b.Status,
	)
}

func projectLabel(name string) string {
	if name == "" {
		return "Default Project"
	}

	return name
}

func statusVerb(s domain.Status) string {
	switch s {
	case domain.StatusPassed:
		return "passed."
	case domain.StatusFailed:
		return "failed."
	case domain.StatusError:
		return "errored."
	default:
		return "was skipped."
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}

	return s
}

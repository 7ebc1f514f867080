package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fridayops/friday/pkg/domain"
	"github.com/fridayops/friday/pkg/health"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth serves the service health snapshot.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health.Collect(r.Context()))
}

// ingestRequest is the report submission payload: sideband build metadata
// plus the raw Cucumber-JSON feature array.
type ingestRequest struct {
	Name        string          `json:"name"`
	Project     string          `json:"project"`
	Environment string          `json:"environment"`
	Branch      string          `json:"branch"`
	CommitSHA   string          `json:"commit_sha"`
	UUID        string          `json:"uuid"`
	Timestamp   string          `json:"timestamp"`
	Report      json.RawMessage `json:"report"`
}

type ingestResponse struct {
	TestRunID      uint    `json:"test_run_id"`
	Duplicate      bool    `json:"duplicate"`
	Status         string  `json:"status"`
	SuccessRate    float64 `json:"success_rate"`
	Total          int     `json:"total"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	Skipped        int     `json:"skipped"`
	Features       int     `json:"features"`
	Scenarios      int     `json:"scenarios"`
	Steps          int     `json:"steps"`
	StepsSkipped   int     `json:"steps_skipped"`
	FullyLinked    int     `json:"fully_linked"`
	RelationalOnly int     `json:"relational_only"`
}

// handleIngestReport parses and dual-writes a submitted test report.
func (s *server) handleIngestReport(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if len(req.Report) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"report is required"})

		return
	}

	report, err := domain.ParseCucumber(req.Report, domain.Sideband{
		Name:        req.Name,
		Project:     req.Project,
		Environment: req.Environment,
		Branch:      req.Branch,
		CommitSHA:   req.CommitSHA,
		UUID:        req.UUID,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidReport) {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		s.log.WithError(err).Error("Failed to parse report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to parse report"})

		return
	}

	result, err := s.coordinator.IngestReport(r.Context(), report)
	if err != nil {
		s.log.WithError(err).Error("Failed to ingest report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to ingest report"})

		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		TestRunID:      result.TestRunID,
		Duplicate:      result.Duplicate,
		Status:         string(report.Status()),
		SuccessRate:    result.Counts.SuccessRate(),
		Total:          result.Counts.Total,
		Passed:         result.Counts.Passed,
		Failed:         result.Counts.Failed,
		Skipped:        result.Counts.Skipped,
		Features:       result.Features,
		Scenarios:      result.Scenarios,
		Steps:          result.Steps,
		StepsSkipped:   result.StepsSkip,
		FullyLinked:    result.FullyLinked,
		RelationalOnly: result.Degraded,
	})
}

// buildInfoRequest is the CI build metadata submission payload.
type buildInfoRequest struct {
	Project     string `json:"project"`
	BuildNumber string `json:"build_number"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at"`
	Branch      string `json:"branch"`
	CommitSHA   string `json:"commit_sha"`
	Environment string `json:"environment"`
}

// handleIngestBuildInfo stores CI build metadata alongside test runs.
func (s *server) handleIngestBuildInfo(w http.ResponseWriter, r *http.Request) {
	var req buildInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.BuildNumber == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"build_number is required"})

		return
	}

	id, err := s.coordinator.IngestBuildInfo(r.Context(), &domain.BuildInfo{
		ProjectName: req.Project,
		BuildNumber: req.BuildNumber,
		Name:        req.Name,
		Status:      domain.Status(req.Status),
		StartedAt:   domain.ParseTimestamp(req.StartedAt),
		EndedAt:     domain.ParseTimestamp(req.EndedAt),
		Branch:      req.Branch,
		CommitSHA:   req.CommitSHA,
		Environment: req.Environment,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to ingest build info")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to ingest build info"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]uint{"build_info_id": id})
}

// handleGetReport looks up a stored run by numeric id or original UUID.
func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")

	id, err := s.store.ResolveRunID(r.Context(), ref)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to load run"})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

type queryRequest struct {
	Query string `json:"query"`
}

// handleQuery answers a natural-language question about test history.
// Backend failures surface as degraded answers, never as errors.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"query is required"})

		return
	}

	writeJSON(w, http.StatusOK, s.rag.Query(r.Context(), req.Query))
}

// handleArtifact serves a stored artifact. Local roots are checked
// first; otherwise the request redirects to a presigned S3 URL.
func (s *server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	artifactPath := chi.URLParam(r, "*")
	if artifactPath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"artifact path is required"})

		return
	}

	if s.localServer != nil {
		if err := s.localServer.ServeFile(w, r, artifactPath); err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"artifact not found"})
		}

		return
	}

	if s.presigner != nil {
		url, err := s.presigner.GeneratePresignedURL(r.Context(), artifactPath)
		if err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"artifact not found"})

			return
		}

		http.Redirect(w, r, url, http.StatusFound)

		return
	}

	writeJSON(w, http.StatusNotFound,
		errorResponse{"no artifact backend configured"})
}

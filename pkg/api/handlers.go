package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/history"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/report"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

type accountRequest struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	CredentialRef string   `json:"credential_ref"`
	Regions       []string `json:"regions"`
}

type optionsRequest struct {
	Regions         []string `json:"regions"`
	WindowDays      int      `json:"window_days"`
	Providers       []string `json:"providers"`
	ValidateBilling bool     `json:"validate_billing"`
	Tolerance       *float64 `json:"tolerance"`
}

type scanRequest struct {
	Accounts []accountRequest `json:"accounts"`
	Options  optionsRequest   `json:"options"`
}

type statusResponse struct {
	ScanJobID       string                                  `json:"scan_job_id"`
	Status          model.JobStatus                         `json:"status"`
	ProgressPercent float64                                 `json:"progress_percent"`
	Stages          map[model.JobStatus]model.StageProgress `json:"stages,omitempty"`
	Warnings        []model.Warning                         `json:"warnings"`
	Errors          []string                                `json:"errors,omitempty"`
	StartedAt       time.Time                               `json:"started_at"`
	EndedAt         *time.Time                              `json:"ended_at,omitempty"`
}

type feedbackRequest struct {
	Accepted *bool `json:"accepted"`
}

// maxBody caps request payloads.
const maxBody = 1 << 20

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Options.WindowDays < 0 {
		respondError(w, http.StatusBadRequest, "window_days must not be negative")
		return
	}

	accounts := make([]model.CloudAccount, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		accounts = append(accounts, model.CloudAccount{
			ID:         a.ID,
			Provider:   a.Provider,
			Credential: model.CredentialRef(a.CredentialRef),
			Regions:    a.Regions,
		})
	}
	opts := model.ScanOptions{
		Regions:         req.Options.Regions,
		Window:          time.Duration(req.Options.WindowDays) * 24 * time.Hour,
		Providers:       req.Options.Providers,
		ValidateBilling: req.Options.ValidateBilling,
		Tolerance:       req.Options.Tolerance,
	}

	id, err := s.scanner.StartScan(r.Context(), accounts, opts)
	if err != nil {
		s.fail(w, "start scan", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"scan_job_id": id})
}

func (s *Server) scanStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.scanner.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, "scan status", err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		ScanJobID:       job.ID,
		Status:          job.Status,
		ProgressPercent: job.Progress.Percent,
		Stages:          job.Progress.Stages,
		Warnings:        job.Warnings,
		Errors:          job.Errors,
		StartedAt:       job.StartedAt,
		EndedAt:         job.EndedAt,
	})
}

// result resolves the final result, or the preserved partial one when asked.
func (s *Server) result(r *http.Request) (model.ScanResult, error) {
	id := mux.Vars(r)["id"]
	if r.URL.Query().Get("partial") == "true" {
		return s.scanner.PartialResult(r.Context(), id)
	}
	return s.scanner.Result(r.Context(), id)
}

func (s *Server) scanResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.result(r)
	if err != nil {
		s.fail(w, "scan result", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	accepted, err := s.scanner.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, "cancel scan", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) exportScan(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = report.FormatJSON
	}
	if format != report.FormatJSON && format != report.FormatCSV {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
		return
	}
	res, err := s.result(r)
	if err != nil {
		s.fail(w, "export scan", err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "cloudmind-"+res.ScanID+"."+format))
	w.WriteHeader(http.StatusOK)
	if err := report.Write(w, format, res); err != nil {
		s.logger.Error("export write failed", "scan_id", res.ScanID, "error", err)
	}
}

func (s *Server) scanAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.scanner.Status(r.Context(), id); err != nil {
		s.fail(w, "scan audit", err)
		return
	}
	entries, err := s.store.ListAudit(r.Context(), id)
	if err != nil {
		s.fail(w, "scan audit", err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.fail(w, "list scans", err)
		return
	}
	// live jobs carry fresher progress than their persisted copy
	live := map[string]model.ScanJob{}
	for _, j := range s.scanner.List() {
		live[j.ID] = j
	}
	for i, j := range jobs {
		if l, ok := live[j.ID]; ok {
			jobs[i] = l
		}
	}
	if jobs == nil {
		jobs = []model.ScanJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) recordFeedback(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "acceptance history is not configured")
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil || req.Accepted == nil {
		respondError(w, http.StatusBadRequest, "body must be {\"accepted\": bool}")
		return
	}
	rec, err := s.store.GetRecommendation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, "record feedback", err)
		return
	}
	f := history.Feedback{
		ScanID:           rec.ScanID,
		RecommendationID: rec.ID,
		ResourceID:       rec.PrimaryResource(),
		Category:         rec.Category,
		Rules:            rec.Rules,
		Accepted:         *req.Accepted,
	}
	if err := s.history.Record(r.Context(), f); err != nil {
		s.fail(w, "record feedback", err)
		return
	}
	s.logger.Info("recommendation feedback recorded", "recommendation_id", rec.ID, "accepted", f.Accepted)
	respondJSON(w, http.StatusOK, map[string]any{"recommendation_id": rec.ID, "accepted": f.Accepted})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	}
	msg := err.Error()
	if errors.Is(err, model.ErrNotReady) {
		msg = "scan has not completed: " + msg
	}
	respondError(w, status, msg)
}

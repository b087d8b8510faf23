package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/ingestion"
	"github.com/stanstork/stratum-ingest/internal/models"
)

type JobHandler struct {
	service ingestion.Service
	logger  zerolog.Logger
}

func NewJobHandler(service ingestion.Service, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger.With().Str("handler", "job").Logger(),
	}
}

func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req ingestion.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}
	job, err := h.service.CreateJob(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, r.URL.Query().Get("status"))
}

func (h *JobHandler) ListJobsByStatus(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, mux.Vars(r)["status"])
}

func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request, raw string) {
	var filter *models.JobStatus
	if raw = strings.TrimSpace(raw); raw != "" {
		status, ok := models.ParseJobStatus(raw)
		if !ok {
			writeAppError(w, r, h.logger, apperrors.Validation("unknown job status %q", raw))
			return
		}
		filter = &status
	}
	jobs, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) QueueJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.QueueJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) ExecuteJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.ExecuteNow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.GetLogs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if logs == nil {
		logs = []models.JobLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *JobHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStatistics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if stats == nil {
		stats = []models.JobStatistics{}
	}
	writeJSON(w, http.StatusOK, stats)
}

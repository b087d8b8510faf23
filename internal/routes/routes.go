package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/stratum-ingest/internal/handlers"
)

// NewRouter sets up the API routes. metrics may be nil.
func NewRouter(jobs *handlers.JobHandler, busHandler *handlers.BusHandler, health *handlers.HealthHandler, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.HealthCheck).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	const jobsPath = "/api/ingestion/jobs"
	router.HandleFunc(jobsPath, jobs.CreateJob).Methods(http.MethodPost)
	router.HandleFunc(jobsPath, jobs.ListJobs).Methods(http.MethodGet)
	router.HandleFunc(jobsPath+"/status/{status}", jobs.ListJobsByStatus).Methods(http.MethodGet)
	router.HandleFunc(jobsPath+"/{id}", jobs.GetJob).Methods(http.MethodGet)
	router.HandleFunc(jobsPath+"/{id}/queue", jobs.QueueJob).Methods(http.MethodPost)
	router.HandleFunc(jobsPath+"/{id}/execute", jobs.ExecuteJob).Methods(http.MethodPost)
	router.HandleFunc(jobsPath+"/{id}/logs", jobs.GetLogs).Methods(http.MethodGet)
	router.HandleFunc(jobsPath+"/{id}/statistics", jobs.GetStatistics).Methods(http.MethodGet)

	router.HandleFunc("/api/bus/publish", busHandler.Publish).Methods(http.MethodPost)

	return router
}

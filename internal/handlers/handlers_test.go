package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/bus"
	"github.com/stanstork/stratum-ingest/internal/engine"
	"github.com/stanstork/stratum-ingest/internal/ingestion"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noDispatch struct{}

func (noDispatch) Dispatch(context.Context, string) error { return nil }

type capturePublisher struct {
	msgs []bus.Message
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, msg bus.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type failingPinger struct{ err error }

func (p failingPinger) PingContext(context.Context) error { return p.err }

type server struct {
	router    *mux.Router
	machine   *engine.StateMachine
	publisher *capturePublisher
}

func newServer() *server {
	store := repository.NewMemoryStore()
	machine := engine.NewStateMachine(store.Jobs())
	recorder := engine.NewRecorder(store.Logs(), store.Statistics())
	svc := ingestion.NewService(store.Jobs(), store.Logs(), store.Statistics(), machine, recorder, noDispatch{}, zerolog.Nop())

	jobs := NewJobHandler(svc, zerolog.Nop())
	pub := &capturePublisher{}
	busHandler := NewBusHandler(pub, zerolog.Nop())

	r := mux.NewRouter()
	api := r.PathPrefix("/api/ingestion").Subrouter()
	api.HandleFunc("/jobs", jobs.CreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", jobs.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/status/{status}", jobs.ListJobsByStatus).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", jobs.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/queue", jobs.QueueJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/execute", jobs.ExecuteJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/logs", jobs.GetLogs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/statistics", jobs.GetStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/bus/publish", busHandler.Publish).Methods(http.MethodPost)

	return &server{router: r, machine: machine, publisher: pub}
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

const createBody = `{"name":"orders","sourceType":"FILE","sourceFormat":"CSV","sourceLocation":"/in.csv","destinationType":"LOCAL","destinationLocation":"out.csv"}`

func (s *server) createJob(t *testing.T) models.Job {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/ingestion/jobs", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateAndGetJob(t *testing.T) {
	s := newServer()
	job := s.createJob(t)
	assert.Equal(t, models.JobStatusCreated, job.Status)
	assert.Equal(t, 3, job.MaxRetries)

	rec := s.do(t, http.MethodGet, "/api/ingestion/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sourceType":"FILE"`)
	assert.Contains(t, rec.Body.String(), `"retryCount":0`)
	assert.NotContains(t, rec.Body.String(), "source_type")
	assert.NotContains(t, rec.Body.String(), "version")
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	s := newServer()

	rec := s.do(t, http.MethodPost, "/api/ingestion/jobs", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/ingestion/jobs", `{"name":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Equal(t, "/api/ingestion/jobs", body.Path)
	assert.Contains(t, body.Message, "sourceType is required")
	assert.False(t, body.Timestamp.IsZero())
}

func TestGetUnknownJob(t *testing.T) {
	rec := newServer().do(t, http.MethodGet, "/api/ingestion/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeError(t, rec).Status)

	rec = newServer().do(t, http.MethodGet, "/api/ingestion/jobs/missing/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueAndConflict(t *testing.T) {
	s := newServer()
	job := s.createJob(t)

	rec := s.do(t, http.MethodPost, "/api/ingestion/jobs/"+job.ID+"/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"QUEUED"`)

	rec = s.do(t, http.MethodPost, "/api/ingestion/jobs/"+job.ID+"/queue", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecuteReturnsAccepted(t *testing.T) {
	s := newServer()
	job := s.createJob(t)

	rec := s.do(t, http.MethodPost, "/api/ingestion/jobs/"+job.ID+"/execute", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestListJobsFilters(t *testing.T) {
	s := newServer()
	a := s.createJob(t)
	s.createJob(t)
	_, err := s.machine.Queue(context.Background(), a.ID)
	require.NoError(t, err)

	var jobs []models.Job
	rec := s.do(t, http.MethodGet, "/api/ingestion/jobs", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)

	rec = s.do(t, http.MethodGet, "/api/ingestion/jobs?status=queued", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].ID)

	rec = s.do(t, http.MethodGet, "/api/ingestion/jobs/status/COMPLETED", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/ingestion/jobs/status/DONE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogsAndStatistics(t *testing.T) {
	s := newServer()
	job := s.createJob(t)

	rec := s.do(t, http.MethodGet, "/api/ingestion/jobs/"+job.ID+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.JobLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.NotEmpty(t, logs)
	assert.Equal(t, models.LogLevelInfo, logs[0].Level)

	rec = s.do(t, http.MethodGet, "/api/ingestion/jobs/"+job.ID+"/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBusPublish(t *testing.T) {
	s := newServer()

	rec := s.do(t, http.MethodPost, "/api/bus/publish", `{"topic":"ingestion-jobs","key":"k1","message":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/bus/publish", `{"topic":"job-results","message":{"a":1}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, s.publisher.msgs, 2)
	assert.Equal(t, "hello", string(s.publisher.msgs[0].Value))
	assert.Equal(t, "k1", s.publisher.msgs[0].Key)
	assert.JSONEq(t, `{"a":1}`, string(s.publisher.msgs[1].Value))

	rec = s.do(t, http.MethodPost, "/api/bus/publish", `{"message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.publisher.err = errors.New("broker down")
	rec = s.do(t, http.MethodPost, "/api/bus/publish", `{"topic":"t","message":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(failingPinger{err: errors.New("refused")}).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ingestion/jobs", nil)
	writeAppError(rec, req, zerolog.Nop(), errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Internal server error", body.Message)
}

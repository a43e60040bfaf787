package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"enricher-backend/internal/middleware"
	"enricher-backend/internal/models"
	"enricher-backend/internal/repository"
	"enricher-backend/internal/services"
)

type stubPipeline struct {
	calls int
	req   models.DownloadRequest
	res   services.PipelineResult
}

func (s *stubPipeline) Run(ctx context.Context, runID uuid.UUID, req models.DownloadRequest) *services.PipelineResult {
	s.calls++
	s.req = req
	res := s.res
	res.RunID = runID
	return &res
}

type memLedger struct {
	runs map[uuid.UUID]*models.IngestRun
}

func newMemLedger() *memLedger {
	return &memLedger{runs: map[uuid.UUID]*models.IngestRun{}}
}

func (m *memLedger) Create(ctx context.Context, run *models.IngestRun) error {
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *memLedger) Complete(ctx context.Context, id uuid.UUID, outcome string, result any) error {
	run, ok := m.runs[id]
	if !ok {
		return repository.ErrNotFound
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	run.Status = "completed"
	run.Outcome = &outcome
	run.ResultJSON = data
	return nil
}

func (m *memLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return run, nil
}

type stubLocker struct{ err error }

func (s stubLocker) Acquire(ctx context.Context, sourceURL string) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	return func() {}, nil
}

type stubQueue struct {
	jobs []models.IngestJob
	err  error
}

func (q *stubQueue) Enqueue(ctx context.Context, job models.IngestJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.IngestResponse {
	t.Helper()
	var resp models.IngestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func successResult() services.PipelineResult {
	return services.PipelineResult{
		Outcome: services.OutcomeSuccess,
		Video: &models.StoredObject{
			FileName:  "Clip - Author.mp4",
			PublicURL: "https://storage.googleapis.com/bucket/videos/Clip%20-%20Author.mp4",
			SizeBytes: 1024,
			BlobName:  "videos/Clip - Author.mp4",
		},
		Metadata: &models.VideoMetadata{Title: "Clip", Uploader: "author", Source: "generic"},
	}
}

func TestIngest_Success(t *testing.T) {
	pipeline := &stubPipeline{res: successResult()}
	ledger := newMemLedger()
	h := NewIngestHandler(pipeline, ledger, nil, nil)

	rr := postJSON(t, h.Ingest, "/api/v1/ingest", `{"video_url":"https://example.com/clip.mp4","extract_audio":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if !resp.Success || resp.Outcome != "success" || resp.Video == nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if pipeline.req.ExtractAudio {
		t.Error("expected extract_audio=false to reach the pipeline")
	}

	run, ok := ledger.runs[resp.RunID]
	if !ok {
		t.Fatal("expected run to be recorded")
	}
	if run.Mode != "sync" || run.Status != "completed" || run.Outcome == nil || *run.Outcome != "success" {
		t.Errorf("unexpected ledger row %+v", run)
	}
	if run.Origin != "generic" {
		t.Errorf("expected generic origin, got %q", run.Origin)
	}
}

func TestIngest_DefaultsExtractAudio(t *testing.T) {
	pipeline := &stubPipeline{res: successResult()}
	h := NewIngestHandler(pipeline, nil, nil, nil)

	postJSON(t, h.Ingest, "/", `{"video_url":"https://example.com/clip.mp4"}`)
	if !pipeline.req.ExtractAudio {
		t.Error("expected extract_audio to default to true")
	}
}

func TestIngest_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"video_url":`},
		{"missing url", `{}`},
		{"not a url", `{"video_url":"not a url"}`},
		{"unsupported scheme", `{"video_url":"ftp://example.com/a.mp4"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipeline := &stubPipeline{res: successResult()}
			h := NewIngestHandler(pipeline, nil, nil, nil)

			rr := postJSON(t, h.Ingest, "/api/v1/ingest", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if pipeline.calls != 0 {
				t.Error("pipeline must not run for invalid input")
			}
			var body models.ErrorResponse
			json.Unmarshal(rr.Body.Bytes(), &body)
			if body.Error.Code != "VALIDATION_ERROR" || body.Error.RequestID != "req-1" {
				t.Errorf("unexpected error envelope %+v", body.Error)
			}
		})
	}
}

func TestIngest_FailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"upstream not found", &services.UpstreamNotFoundError{Side: services.SideResolver, Message: "gone"}, http.StatusBadGateway},
		{"upstream auth", &services.UpstreamAuthError{Side: services.SideOrigin, Message: "private"}, http.StatusBadGateway},
		{"rate limited", &services.UpstreamRateLimitedError{Side: services.SideResolver, Message: "slow down"}, http.StatusBadGateway},
		{"timeout", &services.UpstreamTimeoutError{Message: "budget"}, http.StatusGatewayTimeout},
		{"unsupported", &services.UnsupportedMediaError{Message: "no progressive format"}, http.StatusUnprocessableEntity},
		{"storage", &services.StorageWriteError{Key: "videos/x.mp4", Err: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipeline := &stubPipeline{res: services.PipelineResult{
				Outcome: services.OutcomeFailed,
				Fatal:   &models.StageError{Stage: services.StageFetch, Message: tc.err.Error(), Recoverable: services.Recoverable(tc.err)},
				Err:     tc.err,
			}}
			h := NewIngestHandler(pipeline, nil, nil, nil)

			rr := postJSON(t, h.Ingest, "/api/v1/ingest", `{"video_url":"https://example.com/clip.mp4"}`)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			resp := decodeResponse(t, rr)
			if resp.Success || resp.Outcome != "failed" || resp.Error == nil {
				t.Errorf("unexpected response %+v", resp)
			}
			if resp.Video != nil || resp.Audio != nil {
				t.Error("failed runs must not report stored objects")
			}
		})
	}
}

func TestIngest_PartialSuccessIsOK(t *testing.T) {
	res := successResult()
	res.Outcome = services.OutcomePartialSuccess
	res.Diagnostics = []models.StageError{{Stage: services.StageExtractAudio, Message: "no audio stream", Recoverable: false}}
	h := NewIngestHandler(&stubPipeline{res: res}, nil, nil, nil)

	rr := postJSON(t, h.Ingest, "/api/v1/ingest", `{"video_url":"https://example.com/clip.mp4"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if !resp.Success || resp.Error == nil || resp.Error.Stage != services.StageExtractAudio {
		t.Errorf("expected first diagnostic as error, got %+v", resp.Error)
	}
}

func TestIngest_ConcurrentRunConflicts(t *testing.T) {
	pipeline := &stubPipeline{res: successResult()}
	h := NewIngestHandler(pipeline, nil, stubLocker{err: services.ErrIngestInProgress}, nil)

	rr := postJSON(t, h.Ingest, "/api/v1/ingest", `{"video_url":"https://example.com/clip.mp4"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if pipeline.calls != 0 {
		t.Error("pipeline must not run while the URL is locked")
	}
}

func TestIngest_LockBackendDownStillRuns(t *testing.T) {
	pipeline := &stubPipeline{res: successResult()}
	h := NewIngestHandler(pipeline, nil, stubLocker{err: errors.New("dial tcp: connection refused")}, nil)

	rr := postJSON(t, h.Ingest, "/api/v1/ingest", `{"video_url":"https://example.com/clip.mp4"}`)
	if rr.Code != http.StatusOK || pipeline.calls != 1 {
		t.Fatalf("expected run to proceed, got %d (calls=%d)", rr.Code, pipeline.calls)
	}
}

func TestIngestAsync(t *testing.T) {
	queue := &stubQueue{}
	ledger := newMemLedger()
	pipeline := &stubPipeline{}
	h := NewIngestHandler(pipeline, ledger, nil, queue)

	rr := postJSON(t, h.IngestAsync, "/api/v1/ingest/async", `{"video_url":"https://www.tiktok.com/@user/video/123"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rr.Body.Bytes(), &body)
	runID, err := uuid.Parse(body["run_id"])
	if err != nil {
		t.Fatalf("expected run_id, got %q", body["run_id"])
	}
	if len(queue.jobs) != 1 || queue.jobs[0].RunID != runID {
		t.Fatalf("expected queued job for %s, got %+v", runID, queue.jobs)
	}
	if pipeline.calls != 0 {
		t.Error("async ingest must not run the pipeline inline")
	}
	run := ledger.runs[runID]
	if run == nil || run.Mode != "async" || run.Status != "queued" || run.Origin != "short_form" {
		t.Errorf("unexpected ledger row %+v", run)
	}
}

func TestIngestAsync_Unavailable(t *testing.T) {
	h := NewIngestHandler(&stubPipeline{}, nil, nil, nil)
	rr := postJSON(t, h.IngestAsync, "/api/v1/ingest/async", `{"video_url":"https://example.com/a.mp4"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func getRun(h *IngestHandler, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingests/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)
	return rr
}

func TestGetRun(t *testing.T) {
	ledger := newMemLedger()
	id := uuid.New()
	outcome := "success"
	ledger.runs[id] = &models.IngestRun{ID: id, SourceURL: "https://example.com/a.mp4", Status: "completed", Outcome: &outcome, ResultJSON: json.RawMessage(`{"success":true}`)}
	h := NewIngestHandler(&stubPipeline{}, ledger, nil, nil)

	rr := getRun(h, id.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var run models.IngestRun
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if run.ID != id || run.Outcome == nil || *run.Outcome != "success" || string(run.ResultJSON) != `{"success":true}` {
		t.Errorf("unexpected run %+v", run)
	}

	if rr := getRun(h, uuid.New().String()); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rr.Code)
	}
	if rr := getRun(h, "nope"); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rr.Code)
	}
}

func TestIngest_RecordsCaller(t *testing.T) {
	const secret = "shared-secret"
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "orchestrator-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	ledger := newMemLedger()
	h := NewIngestHandler(&stubPipeline{res: successResult()}, ledger, nil, &stubQueue{})
	auth := middleware.NewBearerAuth(secret)

	for _, tc := range []struct {
		name    string
		handler http.HandlerFunc
		target  string
	}{
		{"sync", h.Ingest, "/api/v1/ingest"},
		{"async", h.IngestAsync, "/api/v1/ingest/async"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := len(ledger.runs)
			req := httptest.NewRequest(http.MethodPost, tc.target, bytes.NewBufferString(`{"video_url":"https://example.com/clip.mp4"}`))
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			auth.Middleware(tc.handler).ServeHTTP(rr, req)

			if rr.Code != http.StatusOK && rr.Code != http.StatusAccepted {
				t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
			}
			if len(ledger.runs) != before+1 {
				t.Fatalf("expected one new ledger row, have %d", len(ledger.runs))
			}
			for _, run := range ledger.runs {
				if run.Mode == tc.name && run.RequestedBy != "orchestrator-7" {
					t.Errorf("expected caller on ledger row, got %q", run.RequestedBy)
				}
			}
		})
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"enricher-backend/internal/middleware"
	"enricher-backend/internal/models"
	"enricher-backend/internal/repository"
	"enricher-backend/internal/services"
)

type pipelineRunner interface {
	Run(ctx context.Context, runID uuid.UUID, req models.DownloadRequest) *services.PipelineResult
}

// RunLedger is implemented by repository.IngestRepo.
type RunLedger interface {
	Create(ctx context.Context, run *models.IngestRun) error
	Complete(ctx context.Context, id uuid.UUID, outcome string, result any) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, job models.IngestJob) error
}

type IngestHandler struct {
	pipeline pipelineRunner
	ledger   RunLedger
	locker   services.URLLocker
	queue    JobQueue
}

// NewIngestHandler wires the ingest endpoints. ledger and queue may be nil;
// the endpoints that need them then answer 503.
func NewIngestHandler(pipeline pipelineRunner, ledger RunLedger, locker services.URLLocker, queue JobQueue) *IngestHandler {
	if locker == nil {
		locker = services.NoopLocker()
	}
	return &IngestHandler{
		pipeline: pipeline,
		ledger:   ledger,
		locker:   locker,
		queue:    queue,
	}
}

func (h *IngestHandler) decode(w http.ResponseWriter, r *http.Request) (models.DownloadRequest, bool) {
	var body models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return models.DownloadRequest{}, false
	}

	req, err := services.NewDownloadRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Invalid ingest request",
			map[string]string{"video_url": err.Error()}, r))
		return models.DownloadRequest{}, false
	}
	return req, true
}

// record logs the run against its caller and writes the ledger row.
func (h *IngestHandler) record(ctx context.Context, runID uuid.UUID, req models.DownloadRequest, mode, status string) error {
	caller := middleware.GetCaller(ctx)
	if caller != "" {
		log.Printf("[RUN %s] %s ingest of %s requested by %s", runID, mode, req.SourceURL, caller)
	}
	if h.ledger == nil {
		return nil
	}
	kind, _ := services.Classify(req.SourceURL)
	return h.ledger.Create(ctx, &models.IngestRun{
		ID:           runID,
		SourceURL:    req.SourceURL,
		Origin:       kind.String(),
		ExtractAudio: req.ExtractAudio,
		Mode:         mode,
		Status:       status,
		RequestedBy:  caller,
	})
}

// Ingest runs the whole pipeline inside the request and answers with the
// assembled result.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	release, err := h.locker.Acquire(r.Context(), req.SourceURL)
	if errors.Is(err, services.ErrIngestInProgress) {
		writeJSON(w, http.StatusConflict, errorResp("INGEST_IN_PROGRESS", err.Error(), r))
		return
	}
	if err != nil {
		log.Printf("ingest lock unavailable, continuing without it: %v", err)
		release = func() {}
	}
	defer release()

	runID := uuid.New()
	ledgered := true
	if err := h.record(r.Context(), runID, req, "sync", "processing"); err != nil {
		log.Printf("[RUN %s] failed to record run: %v", runID, err)
		ledgered = false
	}

	res := h.pipeline.Run(r.Context(), runID, req)
	resp := res.Response()

	if h.ledger != nil && ledgered {
		if err := h.ledger.Complete(context.WithoutCancel(r.Context()), runID, string(res.Outcome), resp); err != nil {
			log.Printf("[RUN %s] failed to store result: %v", runID, err)
		}
	}

	writeJSON(w, statusFor(res), resp)
}

// IngestAsync queues the run and returns its id straight away.
func (h *IngestHandler) IngestAsync(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil || h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("ASYNC_UNAVAILABLE", "Async ingest requires Redis and Postgres", r))
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	runID := uuid.New()
	if err := h.record(r.Context(), runID, req, "async", "queued"); err != nil {
		log.Printf("[RUN %s] failed to record run: %v", runID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to record run", r))
		return
	}

	if err := h.queue.Enqueue(r.Context(), models.IngestJob{RunID: runID, Request: req}); err != nil {
		log.Printf("[RUN %s] %v", runID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue run", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":     runID.String(),
		"status":     "queued",
		"events_url": "/api/v1/ingests/" + runID.String() + "/events",
	})
}

// GetRun returns a ledger row, including the stored result once completed.
func (h *IngestHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("LEDGER_UNAVAILABLE", "Run history requires Postgres", r))
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid run ID", r))
		return
	}

	run, err := h.ledger.GetByID(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Run not found", r))
		return
	}
	if err != nil {
		log.Printf("[RUN %s] failed to load run: %v", runID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	writeJSON(w, http.StatusOK, run)
}

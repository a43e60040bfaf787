package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"enricher-backend/internal/models"
	"enricher-backend/internal/services"
)

const QueueName = "queue:ingest"

// maxLockRetries bounds how often a job is re-queued while another run holds
// the lock for its source URL.
const maxLockRetries = 3

type pipelineRunner interface {
	Run(ctx context.Context, runID uuid.UUID, req models.DownloadRequest) *services.PipelineResult
}

type runLedger interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, outcome string, result any) error
}

type Pool struct {
	redis       *redis.Client
	pipeline    pipelineRunner
	ledger      runLedger
	locker      services.URLLocker
	workerCount int
	stopChan    chan struct{}
	requeue     func(job models.IngestJob, after time.Duration)
}

func NewPool(
	redisClient *redis.Client,
	pipeline pipelineRunner,
	ledger runLedger,
	locker services.URLLocker,
	workerCount int,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	p := &Pool{
		redis:       redisClient,
		pipeline:    pipeline,
		ledger:      ledger,
		locker:      locker,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
	p.requeue = p.requeueAfter
	return p
}

// Enqueue pushes a job onto the tail of the ingest queue.
func (p *Pool) Enqueue(ctx context.Context, job models.IngestJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := p.redis.RPush(ctx, QueueName, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue run %s: %w", job.RunID, err)
	}
	return nil
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d ingest workers", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, 5*time.Second, QueueName).Result()
		if err != nil {
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.IngestJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse job: %v", id, err)
			continue
		}

		// A run id is only ever processed once, even if it is pushed twice.
		lockKey := fmt.Sprintf("job_lock:%s", job.RunID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, id, 15*time.Minute).Result()
		if err != nil || !locked {
			continue
		}

		log.Printf("Worker %d: processing run %s", id, job.RunID)
		if p.process(ctx, &job) {
			// Leave the lock in place for completed runs.
			continue
		}
		p.redis.Del(ctx, lockKey)
	}
}

// process runs one job. It reports false when the job was handed back to the
// queue because its source URL is busy.
func (p *Pool) process(ctx context.Context, job *models.IngestJob) bool {
	locker := p.locker
	if locker == nil {
		locker = services.NoopLocker()
	}
	release, err := locker.Acquire(ctx, job.Request.SourceURL)
	if errors.Is(err, services.ErrIngestInProgress) && job.Attempts < maxLockRetries {
		job.Attempts++
		backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
		log.Printf("[RUN %s] source busy (attempt %d), retrying in %s", job.RunID, job.Attempts, backoff)
		p.requeue(*job, backoff)
		return false
	}
	if err != nil {
		p.complete(ctx, job.RunID, failedResult(job.RunID, err))
		return true
	}
	defer release()

	if p.ledger != nil {
		if err := p.ledger.MarkProcessing(ctx, job.RunID); err != nil {
			log.Printf("[RUN %s] failed to mark processing: %v", job.RunID, err)
		}
	}

	p.complete(ctx, job.RunID, p.pipeline.Run(ctx, job.RunID, job.Request))
	return true
}

func (p *Pool) complete(ctx context.Context, runID uuid.UUID, res *services.PipelineResult) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Complete(ctx, runID, string(res.Outcome), res.Response()); err != nil {
		log.Printf("[RUN %s] failed to store result: %v", runID, err)
	}
}

func (p *Pool) requeueAfter(job models.IngestJob, after time.Duration) {
	time.AfterFunc(after, func() {
		if err := p.Enqueue(context.Background(), job); err != nil {
			log.Printf("[RUN %s] re-queue failed: %v", job.RunID, err)
		}
	})
}

func failedResult(runID uuid.UUID, err error) *services.PipelineResult {
	return &services.PipelineResult{
		RunID:   runID,
		Outcome: services.OutcomeFailed,
		Fatal: &models.StageError{
			Stage:       services.StageValidate,
			Message:     err.Error(),
			Recoverable: services.Recoverable(err),
		},
		Err: err,
	}
}

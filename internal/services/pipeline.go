package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"enricher-backend/internal/models"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFailed         Outcome = "failed"
)

// Stage names as reported in StageError.
const (
	StageValidate     = "validate"
	StageFetch        = "fetch"
	StageExtractAudio = "extract_audio"
	StageUploadVideo  = "upload_video"
	StageUploadAudio  = "upload_audio"
)

type audioExtractor interface {
	Extract(ctx context.Context, video *models.MediaArtifact) (*models.MediaArtifact, error)
}

type artifactUploader interface {
	Upload(ctx context.Context, fileName string, artifact *models.MediaArtifact) (*models.StoredObject, error)
}

type PipelineConfig struct {
	Timeout        time.Duration
	TempDir        string
	MaxTitleLength int
}

// Pipeline runs one ingest: fetch, optional audio extraction, then uploads.
type Pipeline struct {
	fetchers FetcherSet
	audio    audioExtractor
	uploader artifactUploader
	progress ProgressPublisher
	cfg      PipelineConfig
}

func NewPipeline(fetchers FetcherSet, audio audioExtractor, uploader artifactUploader, progress ProgressPublisher, cfg PipelineConfig) *Pipeline {
	if progress == nil {
		progress = noopProgress{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 9 * time.Minute
	}
	if cfg.MaxTitleLength <= 0 {
		cfg.MaxTitleLength = DefaultMaxTitleLength
	}
	return &Pipeline{fetchers: fetchers, audio: audio, uploader: uploader, progress: progress, cfg: cfg}
}

// PipelineResult is the assembled outcome of one run.
type PipelineResult struct {
	RunID       uuid.UUID
	Outcome     Outcome
	Video       *models.StoredObject
	Audio       *models.StoredObject
	Metadata    *models.VideoMetadata
	Diagnostics []models.StageError
	Warnings    []string

	// Fatal is the stage error that failed the run; Err is its cause.
	Fatal *models.StageError
	Err   error
}

func (r *PipelineResult) fail(stage string, err error) *PipelineResult {
	r.Outcome = OutcomeFailed
	r.Fatal = &models.StageError{Stage: stage, Message: err.Error(), Recoverable: Recoverable(err)}
	r.Err = err
	return r
}

func (r *PipelineResult) degrade(stage string, err error) {
	r.Diagnostics = append(r.Diagnostics, models.StageError{
		Stage:       stage,
		Message:     err.Error(),
		Recoverable: Recoverable(err),
	})
}

// Response renders the result for the wire. A failed run carries no objects,
// and audio is only present when it was both produced and stored.
func (r *PipelineResult) Response() models.IngestResponse {
	resp := models.IngestResponse{
		RunID:       r.RunID,
		Success:     r.Outcome != OutcomeFailed,
		Outcome:     string(r.Outcome),
		Diagnostics: r.Diagnostics,
		Warnings:    r.Warnings,
	}
	if r.Outcome == OutcomeFailed {
		resp.Error = r.Fatal
		return resp
	}
	resp.Video = r.Video
	resp.Audio = r.Audio
	resp.Metadata = r.Metadata
	if len(r.Diagnostics) > 0 {
		first := r.Diagnostics[0]
		resp.Error = &first
	}
	return resp
}

// Run executes req under the pipeline's wall-clock budget. It never returns
// nil; every failure is folded into the result.
func (p *Pipeline) Run(ctx context.Context, runID uuid.UUID, req models.DownloadRequest) *PipelineResult {
	res := &PipelineResult{RunID: runID}
	start := time.Now()
	defer func() {
		log.Printf("[RUN %s] finished: outcome=%s in %s", runID, res.Outcome, time.Since(start).Round(time.Millisecond))
		p.progress.PublishUpdate(context.WithoutCancel(ctx), runID, models.WSMessage{
			Type: "completed",
			Payload: models.CompletedEvent{
				RunID:   runID,
				Outcome: string(res.Outcome),
				Success: res.Outcome != OutcomeFailed,
			},
		})
	}()

	kind, err := Classify(req.SourceURL)
	if err != nil {
		return res.fail(StageValidate, err)
	}
	log.Printf("[RUN %s] %s origin=%s extract_audio=%t", runID, req.SourceURL, kind, req.ExtractAudio)

	fetcher := p.fetchers.For(kind)
	if fetcher == nil {
		return res.fail(StageFetch, &UnsupportedMediaError{Message: "no fetcher for origin " + kind.String()})
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	ws, err := NewWorkspace(p.cfg.TempDir, runID)
	if err != nil {
		return res.fail(StageFetch, err)
	}
	defer ws.Close()

	// fetch
	p.publishStage(ctx, runID, 1, StageFetch, "Downloading video")
	video, meta, err := fetcher.Fetch(runCtx, ws, req.SourceURL)
	if err != nil {
		return res.fail(StageFetch, p.budgetError(runCtx, err))
	}
	defer video.Release()
	log.Printf("[RUN %s] fetched %q by %q (%d bytes)", runID, meta.Title, meta.Uploader, video.Size)

	res.Metadata = meta
	res.Warnings = ValidateTitle(meta.Title, p.cfg.MaxTitleLength)
	base := p.baseName(req, meta)

	// extract_audio
	var audio *models.MediaArtifact
	if req.ExtractAudio && p.audio == nil {
		res.degrade(StageExtractAudio, &TranscodeError{Message: "audio extraction is not configured"})
	} else if req.ExtractAudio {
		p.publishStage(ctx, runID, 2, StageExtractAudio, "Extracting audio")
		audio, err = p.audio.Extract(runCtx, video)
		if err != nil {
			log.Printf("[RUN %s] audio extraction failed: %v", runID, err)
			res.degrade(StageExtractAudio, p.budgetError(runCtx, err))
			audio = nil
		} else {
			defer audio.Release()
		}
	}

	// upload
	p.publishStage(ctx, runID, 3, "upload", "Uploading to storage")
	var (
		g                  errgroup.Group
		videoObj, audioObj *models.StoredObject
		videoErr, audioErr error
	)
	g.Go(func() error {
		videoObj, videoErr = p.uploader.Upload(runCtx, VideoFileName(base, video.Ext), video)
		return nil
	})
	if audio != nil {
		g.Go(func() error {
			audioObj, audioErr = p.uploader.Upload(runCtx, AudioFileName(base), audio)
			return nil
		})
	}
	g.Wait()

	if videoErr != nil {
		log.Printf("[RUN %s] video upload failed: %v", runID, videoErr)
		return res.fail(StageUploadVideo, p.budgetError(runCtx, videoErr))
	}
	res.Video = videoObj

	if audioErr != nil {
		log.Printf("[RUN %s] audio upload failed: %v", runID, audioErr)
		res.degrade(StageUploadAudio, p.budgetError(runCtx, audioErr))
	} else {
		res.Audio = audioObj
	}

	if len(res.Diagnostics) > 0 {
		res.Outcome = OutcomePartialSuccess
	} else {
		res.Outcome = OutcomeSuccess
	}
	return res
}

// budgetError reports an expired run budget as a timeout, whatever the
// stage made of it.
func (p *Pipeline) budgetError(runCtx context.Context, err error) error {
	if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	var timeout *UpstreamTimeoutError
	if errors.As(err, &timeout) {
		if timeout.Budget == 0 {
			timeout.Budget = p.cfg.Timeout
		}
		return timeout
	}
	return &UpstreamTimeoutError{Message: fmt.Sprintf("pipeline budget exhausted: %v", err), Budget: p.cfg.Timeout}
}

// baseName is the caller's filename override when it survives sanitising,
// otherwise the synthesized "{title} - {Author}".
func (p *Pipeline) baseName(req models.DownloadRequest, meta *models.VideoMetadata) string {
	if req.Filename != "" {
		name := req.Filename
		if ext := filepath.Ext(name); isMediaExt(ext) {
			name = strings.TrimSuffix(name, ext)
		}
		if clean := truncateTitle(sanitizeTitle(name), p.cfg.MaxTitleLength); clean != "" {
			return clean
		}
	}
	return SynthesizeBaseNameN(meta.Title, meta.Uploader, p.cfg.MaxTitleLength)
}

func isMediaExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp4", ".mp3", ".webm", ".mov", ".mkv", ".m4a":
		return true
	}
	return false
}

func (p *Pipeline) publishStage(ctx context.Context, runID uuid.UUID, step int, stage, message string) {
	p.progress.PublishUpdate(ctx, runID, models.WSMessage{
		Type: "status_update",
		Payload: models.StageEvent{
			RunID:   runID,
			Step:    step,
			Stage:   stage,
			Message: message,
		},
	})
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IngestRequest is the JSON body accepted by the ingest endpoints.
type IngestRequest struct {
	VideoURL     string `json:"video_url"`
	ExtractAudio *bool  `json:"extract_audio,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// DownloadRequest is a validated IngestRequest. Build it with
// services.NewDownloadRequest; it is never mutated afterwards.
type DownloadRequest struct {
	SourceURL    string `json:"source_url"`
	ExtractAudio bool   `json:"extract_audio"`
	Filename     string `json:"filename,omitempty"`
}

type VideoMetadata struct {
	Title     string  `json:"title"`
	Duration  int     `json:"duration"`
	Uploader  string  `json:"uploader"`
	VideoID   string  `json:"video_id"`
	Source    string  `json:"source"`
	Thumbnail *string `json:"thumbnail"`
	Origin    string  `json:"-"`
}

type StoredObject struct {
	FileName  string `json:"file_name"`
	PublicURL string `json:"public_url"`
	SizeBytes int64  `json:"size_bytes"`
	BlobName  string `json:"blob_name"`
}

// StageError is a stage-labelled failure surfaced in the response body.
type StageError struct {
	Stage       string `json:"stage"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type IngestResponse struct {
	RunID       uuid.UUID      `json:"run_id"`
	Success     bool           `json:"success"`
	Outcome     string         `json:"outcome"`
	Video       *StoredObject  `json:"video,omitempty"`
	Audio       *StoredObject  `json:"audio,omitempty"`
	Metadata    *VideoMetadata `json:"metadata,omitempty"`
	Error       *StageError    `json:"error,omitempty"`
	Diagnostics []StageError   `json:"diagnostics,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// IngestRun is one row of the run ledger.
type IngestRun struct {
	ID           uuid.UUID       `json:"id"`
	SourceURL    string          `json:"source_url"`
	Origin       string          `json:"origin"`
	ExtractAudio bool            `json:"extract_audio"`
	Mode         string          `json:"mode"`   // "sync" | "async"
	Status       string          `json:"status"` // "queued" | "processing" | "completed"
	RequestedBy  string          `json:"requested_by,omitempty"`
	Outcome      *string         `json:"outcome"`
	ResultJSON   json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// IngestJob is the payload pushed onto the async queue.
type IngestJob struct {
	RunID    uuid.UUID       `json:"run_id"`
	Request  DownloadRequest `json:"request"`
	Attempts int             `json:"attempts,omitempty"`
}

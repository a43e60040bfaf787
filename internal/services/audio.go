package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"enricher-backend/internal/models"
)

const (
	audioBitrate    = "192k"
	audioSampleRate = "44100"
)

// AudioExtractor transcodes the audio track of a video artifact to MP3 with
// the ffmpeg and ffprobe binaries.
type AudioExtractor struct {
	ffmpegBinary  string
	ffprobeBinary string
	run           commandRunner
}

func NewAudioExtractor(ffmpegBinary, ffprobeBinary string) *AudioExtractor {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &AudioExtractor{ffmpegBinary: ffmpegBinary, ffprobeBinary: ffprobeBinary, run: execRunner}
}

type probeOutput struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Extract writes an MP3 next to the video and returns it as a new artifact.
// The video artifact is left untouched.
func (e *AudioExtractor) Extract(ctx context.Context, video *models.MediaArtifact) (*models.MediaArtifact, error) {
	if video == nil || video.Path == "" {
		return nil, &TranscodeError{Message: "no video to extract from"}
	}

	hasAudio, err := e.hasAudioStream(ctx, video.Path)
	if err != nil {
		return nil, err
	}
	if !hasAudio {
		return nil, &TranscodeError{Message: "source has no audio track", NoAudio: true}
	}

	dest := strings.TrimSuffix(video.Path, "."+video.Ext) + ".mp3"
	if dest == video.Path {
		dest = video.Path + ".mp3"
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video.Path,
		"-vn",
		"-sn",
		"-dn",
		"-acodec", "libmp3lame",
		"-b:a", audioBitrate,
		"-ar", audioSampleRate,
		dest,
	}
	_, stderr, err := e.run(ctx, e.ffmpegBinary, args...)
	if err != nil {
		os.Remove(dest)
		if ctx.Err() != nil {
			return nil, &TranscodeError{Message: "ffmpeg interrupted", Err: ctx.Err()}
		}
		return nil, &TranscodeError{Message: "ffmpeg: " + strings.TrimSpace(string(stderr)), Err: err}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, &TranscodeError{Message: "ffmpeg produced no output", Err: err}
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return nil, &TranscodeError{Message: "ffmpeg produced an empty file"}
	}
	return &models.MediaArtifact{
		Kind:        models.ArtifactAudio,
		Path:        dest,
		ContentType: "audio/mpeg",
		Ext:         "mp3",
		Size:        info.Size(),
	}, nil
}

func (e *AudioExtractor) hasAudioStream(ctx context.Context, path string) (bool, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index,codec_type",
		"-of", "json",
		path,
	}
	stdout, stderr, err := e.run(ctx, e.ffprobeBinary, args...)
	if err != nil {
		return false, &TranscodeError{Message: "ffprobe: " + strings.TrimSpace(string(stderr)), Err: err}
	}
	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return false, &TranscodeError{Message: "failed to parse ffprobe output", Err: fmt.Errorf("decode: %w", err)}
	}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

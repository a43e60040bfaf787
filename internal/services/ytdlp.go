package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strings"

	"enricher-backend/internal/models"
)

// commandRunner runs an external binary and returns stdout and stderr.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	err := cmd.Run()
	return out.Bytes(), stderr.Bytes(), err
}

// YtDlpService resolves arbitrary hosts with the local yt-dlp binary. yt-dlp
// only supplies metadata and format URLs; the bytes are streamed here.
type YtDlpService struct {
	binaryPath string
	client     *http.Client
	run        commandRunner
}

func NewYtDlpService(binaryPath string, client *http.Client) *YtDlpService {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &YtDlpService{binaryPath: binaryPath, client: client, run: execRunner}
}

type ytdlpInfo struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Uploader    string            `json:"uploader"`
	Channel     string            `json:"channel"`
	Duration    float64           `json:"duration"`
	Thumbnail   string            `json:"thumbnail"`
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	HTTPHeaders map[string]string `json:"http_headers"`
	Formats     []ytdlpFormat     `json:"formats"`
}

func (s *YtDlpService) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	info, err := s.probe(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}

	mediaURL, headers, ext := info.URL, info.HTTPHeaders, info.Ext
	if best := pickBestYtdlpFormat(info.Formats); best != nil {
		log.Printf("yt-dlp %s: format %s %dx%d %s", info.ID, best.FormatID, best.Width, best.Height, best.Ext)
		mediaURL, headers, ext = best.URL, best.HTTPHeaders, best.Ext
	}
	if ext == "" {
		ext = "mp4"
	}
	if mediaURL == "" {
		return nil, nil, &UnsupportedMediaError{Message: "no format with both audio and video is available"}
	}

	videoID := info.ID
	if videoID == "" {
		videoID = "video"
	}
	artifact, err := streamToArtifact(ctx, s.client, mediaURL, headers, ws.Path(videoID+"."+ext))
	if err != nil {
		return nil, nil, err
	}

	uploader := info.Uploader
	if uploader == "" {
		uploader = info.Channel
	}
	meta := &models.VideoMetadata{
		Title:    info.Title,
		Duration: int(info.Duration),
		Uploader: uploader,
		VideoID:  info.ID,
		Source:   sourceLabel(OriginGeneric, rawURL),
		Origin:   OriginGeneric.String(),
	}
	if info.Thumbnail != "" {
		thumb := info.Thumbnail
		meta.Thumbnail = &thumb
	}
	return artifact, meta, nil
}

// probe runs yt-dlp in metadata-only mode.
func (s *YtDlpService) probe(ctx context.Context, rawURL string) (*ytdlpInfo, error) {
	args := []string{"-J", "--no-warnings", "--skip-download", "--no-playlist", rawURL}
	stdout, stderr, err := s.run(ctx, s.binaryPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutOr(ctx, err, "yt-dlp metadata")
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		if classified := classifyMessage(SideResolver, msg); classified != nil {
			return nil, classified
		}
		return nil, fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, msg)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	return &info, nil
}

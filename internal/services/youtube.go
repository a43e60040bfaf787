package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	yt "github.com/kkdai/youtube/v2"

	"enricher-backend/internal/models"
)

// YouTubeService resolves and streams YouTube videos with the kkdai client.
type YouTubeService struct {
	ytClient *yt.Client
}

func NewYouTubeService(httpClient *http.Client) *YouTubeService {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &YouTubeService{
		ytClient: &yt.Client{HTTPClient: httpClient},
	}
}

// Fetch downloads the best progressive format of a YouTube video.
func (s *YouTubeService) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	video, err := s.ytClient.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, nil, classifyYouTubeError(ctx, SideResolver, err)
	}

	format := pickBestProgressive(video.Formats)
	if format == nil {
		return nil, nil, &UnsupportedMediaError{Message: "no format with both audio and video is available"}
	}
	log.Printf("YouTube %s: itag %d %dx%d %s", video.ID, format.ItagNo, format.Width, format.Height, format.MimeType)

	stream, _, err := s.ytClient.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, nil, classifyYouTubeError(ctx, SideOrigin, err)
	}

	contentType := mediaType(format.MimeType)
	if contentType == "" {
		contentType = "video/mp4"
	}
	ext := extFor(contentType, "mp4")

	artifact, err := copyToArtifact(ctx, stream, ws.Path(video.ID+"."+ext), contentType, ext)
	if err != nil {
		return nil, nil, err
	}
	return artifact, youtubeMetadata(video, rawURL), nil
}

func youtubeMetadata(video *yt.Video, rawURL string) *models.VideoMetadata {
	meta := &models.VideoMetadata{
		Title:    video.Title,
		Duration: int(video.Duration.Seconds()),
		Uploader: video.Author,
		VideoID:  video.ID,
		Source:   sourceLabel(OriginGeneric, rawURL),
		Origin:   OriginGeneric.String(),
	}

	// Largest thumbnail wins; fall back to the static maxres URL.
	var thumb string
	var area uint
	for _, t := range video.Thumbnails {
		if a := t.Width * t.Height; thumb == "" || a > area {
			thumb, area = t.URL, a
		}
	}
	if thumb == "" && video.ID != "" {
		thumb = fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", video.ID)
	}
	if thumb != "" {
		meta.Thumbnail = &thumb
	}
	return meta
}

// classifyYouTubeError maps client errors onto the taxonomy. Metadata calls
// are the resolver hop; stream calls hit the origin.
func classifyYouTubeError(ctx context.Context, side FailureSide, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return timeoutOr(ctx, err, "youtube request")
	}
	switch {
	case errors.Is(err, yt.ErrVideoPrivate), errors.Is(err, yt.ErrLoginRequired):
		return &UpstreamAuthError{Side: side, Message: err.Error()}
	}
	var status yt.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		return classifyStatus(side, int(status), "", err.Error())
	}
	if classified := classifyMessage(side, err.Error()); classified != nil {
		return classified
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unavailable") || strings.Contains(msg, "invalid characters in video id") {
		return &UpstreamNotFoundError{Side: side, Message: err.Error()}
	}
	return fmt.Errorf("youtube extraction failed: %w", err)
}

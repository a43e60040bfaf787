package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"enricher-backend/internal/models"
)

const spotifyOEmbedEndpoint = "https://open.spotify.com/oembed"

// VideoSearcher finds a video page for a free-text query. It returns "" when
// nothing matches.
type VideoSearcher interface {
	SearchVideo(ctx context.Context, query string) (string, error)
}

// PodcastFetcher resolves a podcast episode page to a mirrored video and
// fetches that video with the generic extractor.
type PodcastFetcher struct {
	client         *http.Client
	oembedEndpoint string
	searcher       VideoSearcher
	videos         Fetcher
}

func NewPodcastFetcher(client *http.Client, searcher VideoSearcher, videos Fetcher) *PodcastFetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &PodcastFetcher{
		client:         client,
		oembedEndpoint: spotifyOEmbedEndpoint,
		searcher:       searcher,
		videos:         videos,
	}
}

type episodeInfo struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	ProviderName string `json:"provider_name"`
}

func (f *PodcastFetcher) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	episode, err := f.episode(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Podcast episode title: %s", episode.Title)

	if f.searcher == nil {
		return nil, nil, &UpstreamNotFoundError{Side: SideResolver, Message: "video search is not configured"}
	}
	videoURL, err := f.searcher.SearchVideo(ctx, episode.Title)
	if err != nil {
		return nil, nil, err
	}
	if videoURL == "" {
		return nil, nil, &UpstreamNotFoundError{Side: SideResolver, Message: fmt.Sprintf("could not find %q on YouTube", episode.Title)}
	}
	log.Printf("Podcast mirror found: %s", videoURL)

	artifact, meta, err := f.videos.Fetch(ctx, ws, videoURL)
	if err != nil {
		return nil, nil, err
	}
	meta.Source = sourceLabel(OriginPodcast, rawURL)
	meta.Origin = OriginPodcast.String()
	if meta.Title == "" {
		meta.Title = episode.Title
	}
	if meta.Thumbnail == nil && episode.ThumbnailURL != "" {
		thumb := episode.ThumbnailURL
		meta.Thumbnail = &thumb
	}
	return artifact, meta, nil
}

func (f *PodcastFetcher) episode(ctx context.Context, rawURL string) (*episodeInfo, error) {
	endpoint := f.oembedEndpoint + "?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create oembed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("oembed request failed: %w", err), "podcast metadata")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(SideResolver, resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	var info episodeInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode oembed response: %w", err)
	}
	info.Title = strings.TrimSpace(info.Title)
	if info.Title == "" {
		return nil, &UpstreamNotFoundError{Side: SideResolver, Message: "episode has no title"}
	}
	return &info, nil
}

// YouTubeSearch looks up long-form videos through the YouTube Data API.
type YouTubeSearch struct {
	svc *youtube.Service
}

func NewYouTubeSearch(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTubeSearch, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube data client: %w", err)
	}
	return &YouTubeSearch{svc: svc}, nil
}

func (s *YouTubeSearch) SearchVideo(ctx context.Context, query string) (string, error) {
	resp, err := s.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		VideoDuration("long").
		MaxResults(5).
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyGoogleAPIError(ctx, SideResolver, err, "youtube search")
	}
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		if item.Snippet != nil {
			log.Printf("YouTube search found: %s", item.Snippet.Title)
		}
		return "https://www.youtube.com/watch?v=" + item.Id.VideoId, nil
	}
	return "", nil
}

// classifyGoogleAPIError maps a googleapi error onto the upstream taxonomy.
func classifyGoogleAPIError(ctx context.Context, side FailureSide, err error, what string) error {
	if ctx.Err() != nil {
		return timeoutOr(ctx, err, what)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(side, gerr.Code, gerr.Header.Get("Retry-After"), gerr.Message)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

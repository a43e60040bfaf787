package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"enricher-backend/internal/models"
)

// ProxyFetcher resolves short-form video pages through a RapidAPI resolver.
// The origin blocks direct requests from our egress range but serves the
// binary URL the resolver hands back.
type ProxyFetcher struct {
	apiKey   string
	apiHost  string
	endpoint string
	client   *http.Client
}

func NewProxyFetcher(apiKey, apiHost string, client *http.Client) *ProxyFetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &ProxyFetcher{
		apiKey:   apiKey,
		apiHost:  apiHost,
		endpoint: "https://" + apiHost + "/",
		client:   client,
	}
}

type proxyResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Duration int    `json:"duration"`
		Play     string `json:"play"`
		HDPlay   string `json:"hdplay"`
		Cover    string `json:"cover"`
		Author   struct {
			UniqueID string `json:"unique_id"`
			Nickname string `json:"nickname"`
		} `json:"author"`
	} `json:"data"`
}

func (f *ProxyFetcher) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	resolved, err := f.resolve(ctx, rawURL)
	if err != nil {
		return nil, nil, &resolverFailure{err: err}
	}

	mediaURL := resolved.Data.HDPlay
	if mediaURL == "" {
		mediaURL = resolved.Data.Play
	}
	if mediaURL == "" {
		return nil, nil, &resolverFailure{err: &UnsupportedMediaError{Message: "resolver returned no playable URL"}}
	}

	videoID := resolved.Data.ID
	if videoID == "" {
		videoID = "unknown"
	}

	artifact, err := streamToArtifact(ctx, f.client, mediaURL, nil, ws.Path(videoID+".mp4"))
	if err != nil {
		return nil, nil, err
	}

	uploader := resolved.Data.Author.UniqueID
	if uploader == "" {
		uploader = resolved.Data.Author.Nickname
	}
	meta := &models.VideoMetadata{
		Title:    resolved.Data.Title,
		Duration: resolved.Data.Duration,
		Uploader: uploader,
		VideoID:  videoID,
		Source:   sourceLabel(OriginShortForm, rawURL),
		Origin:   OriginShortForm.String(),
	}
	if resolved.Data.Cover != "" {
		cover := resolved.Data.Cover
		meta.Thumbnail = &cover
	}
	return artifact, meta, nil
}

func (f *ProxyFetcher) resolve(ctx context.Context, rawURL string) (*proxyResponse, error) {
	if f.apiKey == "" {
		return nil, &UpstreamAuthError{Side: SideResolver, Message: "RAPIDAPI_KEY is not configured"}
	}

	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("hd", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", f.apiKey)
	req.Header.Set("X-RapidAPI-Host", f.apiHost)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("resolver request failed: %w", err), "resolver request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(SideResolver, resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	var out proxyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode resolver response: %w", err)
	}
	if out.Code != 0 {
		msg := strings.TrimSpace(out.Msg)
		if msg == "" {
			msg = fmt.Sprintf("resolver code %d", out.Code)
		}
		log.Printf("Resolver rejected %s: %s", rawURL, msg)
		if classified := classifyMessage(SideResolver, msg); classified != nil {
			return nil, classified
		}
		return nil, &UpstreamNotFoundError{Side: SideResolver, Message: msg}
	}
	return &out, nil
}

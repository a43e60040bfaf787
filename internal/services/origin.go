package services

import (
	"net/url"
	"strings"

	"enricher-backend/internal/models"
)

// OriginKind is the platform family a source URL belongs to.
type OriginKind int

const (
	OriginGeneric OriginKind = iota
	// OriginShortForm is the short-form host whose binaries are only reachable
	// through the proxy resolver.
	OriginShortForm
	// OriginPodcast is a podcast episode page resolved to a video mirror.
	OriginPodcast
)

func (k OriginKind) String() string {
	switch k {
	case OriginShortForm:
		return "short_form"
	case OriginPodcast:
		return "podcast"
	default:
		return "generic"
	}
}

type originRule struct {
	kind  OriginKind
	match func(host, path string) bool
}

// originRules is checked in order; the first match wins.
var originRules = []originRule{
	{OriginShortForm, func(host, _ string) bool {
		return hostIs(host, "tiktok.com")
	}},
	{OriginPodcast, func(host, path string) bool {
		return hostIs(host, "open.spotify.com") && strings.HasPrefix(path, "/episode/")
	}},
}

var youtubeHosts = []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}

// Classify parses rawURL and returns its origin. It fails only when the URL is
// not an absolute http(s) URL.
func Classify(rawURL string) (OriginKind, error) {
	u, err := parseSourceURL(rawURL)
	if err != nil {
		return OriginGeneric, err
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.EscapedPath())
	for _, rule := range originRules {
		if rule.match(host, path) {
			return rule.kind, nil
		}
	}
	return OriginGeneric, nil
}

// NewDownloadRequest validates an incoming request before any stage runs.
func NewDownloadRequest(req models.IngestRequest) (models.DownloadRequest, error) {
	rawURL := strings.TrimSpace(req.VideoURL)
	if rawURL == "" {
		return models.DownloadRequest{}, &InvalidInputError{Message: "video_url is required"}
	}
	if _, err := Classify(rawURL); err != nil {
		return models.DownloadRequest{}, err
	}
	extract := true
	if req.ExtractAudio != nil {
		extract = *req.ExtractAudio
	}
	return models.DownloadRequest{
		SourceURL:    rawURL,
		ExtractAudio: extract,
		Filename:     strings.TrimSpace(req.Filename),
	}, nil
}

// sourceLabel is the metadata "source" value for a fetched URL.
func sourceLabel(kind OriginKind, rawURL string) string {
	switch kind {
	case OriginShortForm:
		return "tiktok"
	case OriginPodcast:
		return "spotify_via_youtube"
	}
	if isYouTubeURL(rawURL) {
		return "youtube"
	}
	return "other"
}

func isYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range youtubeHosts {
		if hostIs(host, h) {
			return true
		}
	}
	return false
}

func parseSourceURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &InvalidInputError{Message: "video_url is not a valid URL: " + err.Error()}
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &InvalidInputError{Message: "video_url must be an absolute http(s) URL"}
	}
	if u.Hostname() == "" {
		return nil, &InvalidInputError{Message: "video_url has no host"}
	}
	return u, nil
}

// hostIs matches domain and any of its subdomains.
func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

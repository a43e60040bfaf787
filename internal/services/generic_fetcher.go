package services

import (
	"context"
	"errors"
	"log"

	"enricher-backend/internal/models"
)

type chainLink struct {
	name string
	f    Fetcher
}

// fetchChain tries each link in order until one succeeds. next decides
// whether a failure is worth handing to the following link. The reported
// error is the most specific one seen, so a throttled resolver is not
// masked by a later "no video here".
type fetchChain struct {
	links []chainLink
	next  func(ctx context.Context, err error) bool
}

func (c fetchChain) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	var reported error
	for i, l := range c.links {
		artifact, meta, err := l.f.Fetch(ctx, ws, rawURL)
		if err == nil {
			return artifact, meta, nil
		}
		if reported == nil || errorRank(err) > errorRank(reported) {
			reported = err
		}
		if i == len(c.links)-1 || !c.next(ctx, err) {
			break
		}
		log.Printf("%s fetch failed for %s, trying %s: %v", l.name, rawURL, c.links[i+1].name, err)
	}
	return nil, nil, reported
}

// errorRank orders fetch failures by how much they tell the caller. Ties
// keep the earlier error.
func errorRank(err error) int {
	var (
		timeout     *UpstreamTimeoutError
		limited     *UpstreamRateLimitedError
		auth        *UpstreamAuthError
		notFound    *UpstreamNotFoundError
		unsupported *UnsupportedMediaError
	)
	switch {
	case errors.As(err, &timeout):
		return 4
	case errors.As(err, &limited):
		return 3
	case errors.As(err, &auth), errors.As(err, &notFound):
		return 2
	case errors.As(err, &unsupported):
		return 1
	default:
		return 0
	}
}

// GenericExtractor handles every origin without a dedicated fetcher. Backends
// are tried in order: the native YouTube client for YouTube hosts, yt-dlp,
// then the page's own markup. A backend is skipped when nil.
type GenericExtractor struct {
	youtube Fetcher
	ytdlp   Fetcher
	page    Fetcher
}

func NewGenericExtractor(youtube, ytdlp, page Fetcher) *GenericExtractor {
	return &GenericExtractor{youtube: youtube, ytdlp: ytdlp, page: page}
}

func (g *GenericExtractor) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	chain := fetchChain{next: fallbackWorthy}
	if g.youtube != nil && isYouTubeURL(rawURL) {
		chain.links = append(chain.links, chainLink{"youtube", g.youtube})
	}
	if g.ytdlp != nil {
		chain.links = append(chain.links, chainLink{"yt-dlp", g.ytdlp})
	}
	if g.page != nil {
		chain.links = append(chain.links, chainLink{"page", g.page})
	}
	if len(chain.links) == 0 {
		return nil, nil, &UnsupportedMediaError{Message: "no extractor configured for " + rawURL}
	}
	return chain.Fetch(ctx, ws, rawURL)
}

// fallbackWorthy is true for errors that a second extractor might avoid:
// anything not already mapped onto a terminal upstream condition.
func fallbackWorthy(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var (
		auth     *UpstreamAuthError
		notFound *UpstreamNotFoundError
		timeout  *UpstreamTimeoutError
	)
	return !errors.As(err, &auth) && !errors.As(err, &notFound) && !errors.As(err, &timeout)
}

package services

import (
	"context"
	"errors"

	"enricher-backend/internal/models"
)

// resolverFailure marks an error raised before any media byte was requested
// from the origin. The wrapped error keeps its classification.
type resolverFailure struct {
	err error
}

func (e *resolverFailure) Error() string { return e.err.Error() }

func (e *resolverFailure) Unwrap() error { return e.err }

// ShortFormFetcher resolves short-form pages through the proxy resolver and
// falls back to yt-dlp only when the resolver itself failed. Failures while
// streaming the resolved binary are final.
type ShortFormFetcher struct {
	chain fetchChain
}

func NewShortFormFetcher(resolver, direct Fetcher) *ShortFormFetcher {
	links := []chainLink{{"resolver", resolver}}
	if direct != nil {
		links = append(links, chainLink{"yt-dlp", direct})
	}
	return &ShortFormFetcher{chain: fetchChain{links: links, next: resolverSide}}
}

func (f *ShortFormFetcher) Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error) {
	artifact, meta, err := f.chain.Fetch(ctx, ws, rawURL)
	if err != nil {
		return nil, nil, err
	}
	meta.Source = sourceLabel(OriginShortForm, rawURL)
	meta.Origin = OriginShortForm.String()
	return artifact, meta, nil
}

func resolverSide(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var rf *resolverFailure
	return errors.As(err, &rf)
}

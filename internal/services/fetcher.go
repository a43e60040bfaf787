package services

import (
	"context"

	"enricher-backend/internal/models"
)

// Fetcher turns a page URL into a video artifact plus its metadata. The
// artifact file is created inside ws.
type Fetcher interface {
	Fetch(ctx context.Context, ws *Workspace, rawURL string) (*models.MediaArtifact, *models.VideoMetadata, error)
}

// FetcherSet selects a Fetcher per origin.
type FetcherSet map[OriginKind]Fetcher

func (s FetcherSet) For(kind OriginKind) Fetcher {
	if f, ok := s[kind]; ok && f != nil {
		return f
	}
	return s[OriginGeneric]
}

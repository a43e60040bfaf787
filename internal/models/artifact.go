package models

import (
	"os"
)

type ArtifactKind string

const (
	ArtifactVideo ArtifactKind = "video"
	ArtifactAudio ArtifactKind = "audio"
)

// MediaArtifact is a fetched or transcoded payload held in a request-scoped
// temp file. It is consumed once by the uploader and then released.
type MediaArtifact struct {
	Kind        ArtifactKind
	Path        string
	ContentType string
	Ext         string // without the leading dot
	Size        int64
}

func (a *MediaArtifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Release deletes the backing file. Safe to call more than once.
func (a *MediaArtifact) Release() {
	if a == nil || a.Path == "" {
		return
	}
	os.Remove(a.Path)
	a.Path = ""
}

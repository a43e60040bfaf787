package services

import (
	"errors"
	"testing"

	"enricher-backend/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want OriginKind
	}{
		{"https://www.tiktok.com/@jane_doe/video/7234567890123456789", OriginShortForm},
		{"https://vm.tiktok.com/ZMabc123/", OriginShortForm},
		{"https://TikTok.com/@x/video/1", OriginShortForm},
		{"https://open.spotify.com/episode/4rOoJ6Egrf8K2IrywzwOMk", OriginPodcast},
		{"https://open.spotify.com/show/4rOoJ6Egrf8K2IrywzwOMk", OriginGeneric},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", OriginGeneric},
		{"https://vimeo.com/76979871", OriginGeneric},
		{"http://example.com/notiktok.com/video", OriginGeneric},
		{"https://nottiktok.com/video", OriginGeneric},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			got, err := Classify(tc.url)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Classify(%q) = %s, want %s", tc.url, got, tc.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	url := "https://www.tiktok.com/@a/video/1"
	first, _ := Classify(url)
	for i := 0; i < 5; i++ {
		if got, _ := Classify(url); got != first {
			t.Fatalf("expected stable classification, got %s then %s", first, got)
		}
	}
}

func TestClassify_InvalidInput(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com/file", "/relative/path", "https://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Classify(raw)
			var invalid *InvalidInputError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidInputError for %q, got %v", raw, err)
			}
		})
	}
}

func TestNewDownloadRequest(t *testing.T) {
	req, err := NewDownloadRequest(models.IngestRequest{VideoURL: "  https://vimeo.com/1  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.SourceURL != "https://vimeo.com/1" {
		t.Errorf("expected trimmed URL, got %q", req.SourceURL)
	}
	if !req.ExtractAudio {
		t.Errorf("expected extract_audio to default to true")
	}

	off := false
	req, err = NewDownloadRequest(models.IngestRequest{VideoURL: "https://vimeo.com/1", ExtractAudio: &off, Filename: " custom "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ExtractAudio {
		t.Errorf("expected extract_audio=false to be honoured")
	}
	if req.Filename != "custom" {
		t.Errorf("expected trimmed filename, got %q", req.Filename)
	}

	if _, err := NewDownloadRequest(models.IngestRequest{}); err == nil {
		t.Errorf("expected error for missing video_url")
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		kind OriginKind
		url  string
		want string
	}{
		{OriginShortForm, "https://www.tiktok.com/@a/video/1", "tiktok"},
		{OriginPodcast, "https://open.spotify.com/episode/x", "spotify_via_youtube"},
		{OriginGeneric, "https://youtu.be/dQw4w9WgXcQ", "youtube"},
		{OriginGeneric, "https://m.youtube.com/watch?v=dQw4w9WgXcQ", "youtube"},
		{OriginGeneric, "https://vimeo.com/1", "other"},
	}
	for _, tc := range tests {
		if got := sourceLabel(tc.kind, tc.url); got != tc.want {
			t.Errorf("sourceLabel(%s, %q) = %q, want %q", tc.kind, tc.url, got, tc.want)
		}
	}
}

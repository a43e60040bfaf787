package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"enricher-backend/internal/models"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxErrorBody     = 4 * 1024
)

// NewHTTPClient returns the client shared by resolvers and binary downloads.
// There is no client-level timeout: every call is bounded by its context so
// that large media can stream for as long as the pipeline budget allows.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
	}
}

// streamToArtifact GETs mediaURL and copies the body into dest. On any failure
// the partial file is removed, so a timeout never leaves a truncated artifact.
func streamToArtifact(ctx context.Context, client *http.Client, mediaURL string, headers map[string]string, dest string) (*models.MediaArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, &UnsupportedMediaError{Message: fmt.Sprintf("invalid media URL: %v", err)}
	}
	req.Header.Set("User-Agent", browserUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("failed to download media: %w", err), "media download")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(SideOrigin, resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "text/") || contentType == "application/json" {
		return nil, &UnsupportedMediaError{Message: fmt.Sprintf("origin returned %s instead of media", contentType)}
	}

	file, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create media file %s: %w", dest, err)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return nil, timeoutOr(ctx, fmt.Errorf("failed to write media file: %w", copyErr), "media download interrupted")
	}
	if written == 0 {
		os.Remove(dest)
		return nil, &UnsupportedMediaError{Message: "origin returned an empty body"}
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(dest)
		return nil, fmt.Errorf("short media download: got %d of %d bytes", written, resp.ContentLength)
	}

	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = "video/mp4"
	}
	return &models.MediaArtifact{
		Kind:        models.ArtifactVideo,
		Path:        dest,
		ContentType: contentType,
		Ext:         extFor(contentType, "mp4"),
		Size:        written,
	}, nil
}

// copyToArtifact drains an already opened stream into dest.
func copyToArtifact(ctx context.Context, stream io.ReadCloser, dest, contentType, ext string) (*models.MediaArtifact, error) {
	defer stream.Close()

	file, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create media file %s: %w", dest, err)
	}
	written, copyErr := io.Copy(file, stream)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return nil, timeoutOr(ctx, fmt.Errorf("failed to write media file: %w", copyErr), "media download interrupted")
	}
	if written == 0 {
		os.Remove(dest)
		return nil, &UnsupportedMediaError{Message: "stream was empty"}
	}
	return &models.MediaArtifact{
		Kind:        models.ArtifactVideo,
		Path:        dest,
		ContentType: contentType,
		Ext:         ext,
		Size:        written,
	}, nil
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return strings.ToLower(mt)
}

func extFor(contentType, fallback string) string {
	switch contentType {
	case "video/mp4":
		return "mp4"
	case "video/webm", "audio/webm":
		return "webm"
	case "video/quicktime":
		return "mov"
	case "video/x-matroska":
		return "mkv"
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4":
		return "m4a"
	}
	return fallback
}

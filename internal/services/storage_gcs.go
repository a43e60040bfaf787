package services

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSStore writes objects through the Cloud Storage JSON API.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

// NewGCSStore builds a client from a service account JSON document, or from
// application default credentials when credentialsJSON is empty.
func NewGCSStore(ctx context.Context, bucket, credentialsJSON string, opts ...option.ClientOption) (*GCSStore, error) {
	base := []option.ClientOption{option.WithScopes(storage.DevstorageReadWriteScope)}
	if credentialsJSON != "" {
		base = append(base, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	svc, err := storage.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{svc: svc, bucket: bucket}, nil
}

func (s *GCSStore) Bucket() string { return s.bucket }

func (s *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	obj, err := s.svc.Objects.Insert(s.bucket, &storage.Object{
		Name:        key,
		ContentType: contentType,
	}).Media(r, googleapi.ContentType(contentType)).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	return int64(obj.Size), nil
}

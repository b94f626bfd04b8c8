package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ArtifactStore persists job outputs from provider-hosted URLs into our own
// bucket and returns durable references. Provider URLs expire; ours do not.
type ArtifactStore interface {
	Store(ctx context.Context, userID, runID string, sourceURLs []string) ([]string, error)
}

// S3Store copies artifacts into an S3-compatible bucket over its HTTP API.
type S3Store struct {
	endpoint   string
	bucket     string
	httpClient *http.Client
}

func NewS3Store(endpoint, bucket string) *S3Store {
	return &S3Store{
		endpoint: endpoint,
		bucket:   bucket,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Store downloads each source URL and uploads it under
// inference_data/{user}/{run}/. A failed artifact is skipped with a warning;
// the job is still considered delivered with whatever artifacts survived.
func (s *S3Store) Store(ctx context.Context, userID, runID string, sourceURLs []string) ([]string, error) {
	var refs []string
	for i, src := range sourceURLs {
		key := fmt.Sprintf("inference_data/%s/%s/image_%d.png", userID, runID, i)
		if err := s.copy(ctx, src, key); err != nil {
			slog.Warn("failed to persist artifact, skipping", "run_id", runID, "source", src, "error", err)
			continue
		}
		ref := fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
		slog.Info("artifact persisted", "run_id", runID, "ref", ref)
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *S3Store) copy(ctx context.Context, sourceURL, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("download read failed: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	upload, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	upload.Header.Set("Content-Type", "image/png")
	upload.ContentLength = int64(len(data))

	uploadResp, err := s.httpClient.Do(upload)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer uploadResp.Body.Close()
	if uploadResp.StatusCode >= 400 {
		return fmt.Errorf("upload returned %d", uploadResp.StatusCode)
	}
	return nil
}

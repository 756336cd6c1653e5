// Package artifacts stores diagnostic files produced during a run: challenge
// crops, binarized variants and failure screenshots. Nothing in the renewal
// path depends on a write succeeding.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"vpsrenew/internal/config"
	"vpsrenew/internal/logging"
)

// ErrNotFound is returned by Get for a missing artifact.
var ErrNotFound = errors.New("artifact not found")

// Sink persists run artifacts, keyed by run id and relative path.
type Sink interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, string, []byte) error { return nil }
func (Nop) Get(context.Context, string, string) ([]byte, error) {
	return nil, ErrNotFound
}
func (Nop) List(context.Context, string) ([]string, error) { return nil, nil }

// PutImage encodes img as PNG and stores it. Failures are logged and
// returned; callers usually ignore them.
func PutImage(ctx context.Context, s Sink, runID, path string, img image.Image) error {
	if s == nil || img == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := s.Put(ctx, runID, path, buf.Bytes()); err != nil {
		logging.Get(logging.CategoryStore).Warn("artifact %s/%s not saved: %v", runID, path, err)
		return err
	}
	return nil
}

// New builds the sink selected by cfg.
func New(cfg config.ArtifactsConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "none":
		return Nop{}, nil
	case "dir":
		return NewDirSink(cfg.Dir), nil
	case "minio":
		return NewMinioSink(MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown artifacts kind %q", cfg.Kind)
	}
}

func checkKey(runID, path string) (string, string, error) {
	runID = strings.TrimSpace(runID)
	path = strings.TrimSpace(path)
	if runID == "" {
		return "", "", fmt.Errorf("run_id is required")
	}
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	return runID, path, nil
}

func objectKey(runID, path string) string {
	return strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

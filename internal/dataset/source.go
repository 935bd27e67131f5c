package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"visitmap/internal/config"
)

// Source opens a named geometry file.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// NewSource builds the source selected by cfg.Source.
func NewSource(cfg config.Dataset, client *http.Client) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "dir":
		return DirSource{Dir: cfg.Dir}, nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, errors.New("dataset base url is required for http source")
		}
		return &HTTPSource{BaseURL: cfg.BaseURL, Client: client}, nil
	case "minio":
		return NewMinioSource(cfg)
	}
	return nil, fmt.Errorf("unknown dataset source %q", cfg.Source)
}

// DirSource reads files from a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Dir, filepath.Clean("/"+name)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// HTTPSource fetches files from a static file server, e.g. the web app's
// /geojson directory.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func (s *HTTPSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(name, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", name, resp.StatusCode)
	}
	return resp.Body, nil
}

// MinioSource reads objects from an S3-compatible bucket.
type MinioSource struct {
	client *minio.Client
	bucket string
}

func NewMinioSource(cfg config.Dataset) (*MinioSource, error) {
	if cfg.MinioEndpoint == "" {
		return nil, errors.New("minio endpoint is required for minio source")
	}
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioSource{client: client, bucket: cfg.MinioBucket}, nil
}

func (s *MinioSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, name, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before parsing starts.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("stat object %s/%s: %w", s.bucket, name, err)
	}
	return obj, nil
}

// Package storage selects the artifact store backing a run.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
	"github.com/JakeFAU/top250-crawler/internal/config"
	"github.com/JakeFAU/top250-crawler/internal/storage/gcs"
	"github.com/JakeFAU/top250-crawler/internal/storage/local"
	"github.com/JakeFAU/top250-crawler/internal/storage/memory"
)

// Provider is an artifact store plus the resources it holds.
type Provider struct {
	catalog.BlobStore
	closer io.Closer
}

// Close releases provider resources.
func (p *Provider) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	if err := p.closer.Close(); err != nil {
		return fmt.Errorf("close storage provider: %w", err)
	}
	return nil
}

// New builds the store named by cfg.Provider. The GCS provider checks that
// the bucket is reachable before returning, using Application Default Credentials.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.StorageLocal, "":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		return &Provider{BlobStore: store}, nil
	case config.StorageMemory:
		return &Provider{BlobStore: memory.NewBlobStore()}, nil
	case config.StorageGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		if _, err := client.Bucket(cfg.GCSBucket).Attrs(ctx); err != nil {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("failed to close GCS client after bucket check failure", zap.Error(cerr))
			}
			return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", cfg.GCSBucket, err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close() //nolint:errcheck // construction error wins
			return nil, err
		}
		return &Provider{BlobStore: store, closer: client}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// ArtifactPath places name under prefix/runID.
func ArtifactPath(prefix, runID, name string) string {
	return path.Join(prefix, runID, name)
}

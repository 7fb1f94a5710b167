package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of catalog.BlobStore.
type MockBlobStore struct {
	mock.Mock
}

// PutObject drains r so callers see a complete upload, then returns the stubbed values.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if r != nil {
		_, _ = io.Copy(io.Discard, r) //nolint:errcheck // mock
	}
	args := m.Called(ctx, path, contentType)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

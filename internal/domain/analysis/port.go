package analysis

import (
	"context"
	"io"
)

// Client calls the third-party skin analysis API and returns its decoded result.
type Client interface {
	Analyze(ctx context.Context, image io.Reader, filename string) (map[string]any, error)
}

// ImageStore keeps the submitted face image.
type ImageStore interface {
	UploadImage(ctx context.Context, r io.Reader, size int64, key, contentType string) (string, error)
	DeleteImage(ctx context.Context, key string) error
}

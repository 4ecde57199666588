package attachments

import (
	"context"
	"fmt"
	"log"
	"time"

	"opsdesk/api/internal/config"
)

// Store persists one object and returns its public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// NewStore builds the backend selected by ATTACHMENT_BACKEND.
func NewStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.AttachmentBackend {
	case config.AttachmentsCloudinary:
		return NewCloudinaryStore(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	case config.AttachmentsS3, "":
		s3, err := NewS3Store(S3Config{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			log.Printf("attachments: bucket %s not ready: %v", cfg.S3Bucket, err)
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown attachment backend %q", cfg.AttachmentBackend)
	}
}

// UploadDataURIs decodes and stores each data URI under prefix, returning the
// public URLs in input order. A malformed or failed attachment is logged and
// skipped; it never fails the batch.
func UploadDataURIs(ctx context.Context, store Store, prefix string, uris []string, now time.Time) []string {
	urls := make([]string, 0, len(uris))
	for i, raw := range uris {
		uri, err := ParseDataURI(raw)
		if err != nil {
			log.Printf("attachments: skip attachment %d: %v", i, err)
			continue
		}
		key := ObjectKey(prefix, i, uri.Ext, now)
		url, err := store.Put(ctx, key, uri.ContentType, uri.Data)
		if err != nil {
			log.Printf("attachments: upload %s: %v", key, err)
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

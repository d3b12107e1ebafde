package labelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
)

var storeTracer = otel.Tracer("github.com/Additional-Code/packline/labelstore")

// ErrNotFound is returned when no label artifact exists at a path.
var ErrNotFound = errors.New("label not found")

// Module provides the label store to Fx.
var Module = fx.Provide(NewStore)

// Store keeps label PDFs in an S3-compatible bucket and hands out
// presigned GET URLs for the assembly UI.
type Store struct {
	client    *minio.Client
	bucket    string
	signedTTL time.Duration
	logger    *zap.Logger
}

// NewStore connects to the configured bucket and verifies it exists on
// startup.
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.LabelStore.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.LabelStore.AccessKey, cfg.LabelStore.SecretKey, ""),
		Secure: cfg.LabelStore.UseSSL,
		Region: cfg.LabelStore.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("label store client: %w", err)
	}

	store := &Store{
		client:    client,
		bucket:    cfg.LabelStore.Bucket,
		signedTTL: cfg.LabelStore.SignedTTL,
		logger:    logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ok, err := client.BucketExists(ctx, store.bucket)
			if err != nil {
				return fmt.Errorf("label bucket check: %w", err)
			}
			if !ok {
				return fmt.Errorf("label bucket %q does not exist", store.bucket)
			}
			logger.Info("label store connected", zap.String("bucket", store.bucket))
			return nil
		},
	})

	return store, nil
}

// ObjectPath derives the bucket key for one posting's label.
func ObjectPath(shipmentDate time.Time, shipmentNumber, postingNumber string) string {
	return fmt.Sprintf("labels/%s/%s/%s.pdf", shipmentDate.Format("2006-01-02"), shipmentNumber, postingNumber)
}

// Put uploads one label PDF.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	ctx, span := storeTracer.Start(ctx, "LabelStore.Put", trace.WithAttributes(attribute.String("label.path", path)))
	defer span.End()

	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return err
	}
	return nil
}

// SignedURL returns a presigned GET URL for one label, or ErrNotFound
// when the artifact has not been uploaded yet.
func (s *Store) SignedURL(ctx context.Context, path string) (string, error) {
	ctx, span := storeTracer.Start(ctx, "LabelStore.SignedURL", trace.WithAttributes(attribute.String("label.path", path)))
	defer span.End()

	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return "", ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stat failed")
		return "", err
	}

	signed, err := s.client.PresignedGetObject(ctx, s.bucket, path, s.signedTTL, url.Values{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "presign failed")
		return "", err
	}
	return signed.String(), nil
}

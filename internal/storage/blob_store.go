package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

var blobTracer = otel.Tracer("intake.internal.storage")

const (
	DefaultMaxBytes  int64 = 10 * 1024 * 1024
	DefaultSignedTTL       = 15 * time.Minute
)

// Presigner is the subset of s3.PresignClient used to mint signed GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// HTTPDoer performs the download against a signed URL.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BlobStore retrieves uploaded patient files by minting a short-lived signed URL and
// downloading it with a hard byte ceiling.
type BlobStore struct {
	presigner Presigner
	client    HTTPDoer
	bucket    string
	maxBytes  int64
	ttl       time.Duration
	logger    *logging.Logger
}

// Option customizes a BlobStore.
type Option func(*BlobStore)

// WithMaxBytes overrides the download ceiling.
func WithMaxBytes(n int64) Option {
	return func(s *BlobStore) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithSignedURLTTL overrides how long signed URLs stay valid.
func WithSignedURLTTL(ttl time.Duration) Option {
	return func(s *BlobStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithHTTPClient swaps the downloader.
func WithHTTPClient(client HTTPDoer) Option {
	return func(s *BlobStore) {
		if client != nil {
			s.client = client
		}
	}
}

// NewS3BlobStore wraps an S3 client with a presign client.
func NewS3BlobStore(client *s3.Client, bucket string, logger *logging.Logger, opts ...Option) *BlobStore {
	if client == nil {
		panic("storage: s3 client cannot be nil")
	}
	return NewBlobStore(s3.NewPresignClient(client), bucket, logger, opts...)
}

// NewBlobStore constructs a BlobStore around any presigner.
func NewBlobStore(presigner Presigner, bucket string, logger *logging.Logger, opts ...Option) *BlobStore {
	if presigner == nil {
		panic("storage: presigner cannot be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("storage: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &BlobStore{
		presigner: presigner,
		client:    &http.Client{Timeout: 60 * time.Second},
		bucket:    bucket,
		maxBytes:  DefaultMaxBytes,
		ttl:       DefaultSignedTTL,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBytes reports the configured ceiling.
func (s *BlobStore) MaxBytes() int64 {
	return s.maxBytes
}

// SignedURL returns a time-limited GET URL for the stored path.
func (s *BlobStore) SignedURL(ctx context.Context, path string) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(path), "/")
	if key == "" {
		return "", fmt.Errorf("storage: empty file path")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Fetch downloads the file at path. Bodies larger than the ceiling fail with
// *intake.OversizeFileError before any bytes are handed to the caller.
func (s *BlobStore) Fetch(ctx context.Context, path string) ([]byte, error) {
	ctx, span := blobTracer.Start(ctx, "storage.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("storage.path", path))

	url, err := s.SignedURL(ctx, path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storage: download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("storage: download %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		span.RecordError(err)
		return nil, err
	}
	if resp.ContentLength > s.maxBytes {
		return nil, &intake.OversizeFileError{Path: path, Size: resp.ContentLength, Limit: s.maxBytes}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, &intake.OversizeFileError{Path: path, Limit: s.maxBytes}
	}

	s.logger.Debug("downloaded patient file", "path", path, "bytes", len(data))
	return data, nil
}

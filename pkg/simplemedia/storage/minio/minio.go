// Package minio implements the object store on minio-go for MinIO and other
// S3-compatible deployments.
package minio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

const backendName = "minio"

// listPageSize is the number of parts requested per ListObjectParts call.
const listPageSize = 1000

type Config struct {
	Endpoint        string // host:port, without scheme
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Bucket          string

	// PublicBaseURL is where produced artifacts are served from
	PublicBaseURL string

	CreateBucketIfNotExist bool
}

// Backend is a minio-go implementation of simplemedia.ObjectStore
type Backend struct {
	core   *minio.Core
	bucket string
	config Config
}

// New creates a MinIO object store
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	core, err := minio.NewCore(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	backend := &Backend{core: core, bucket: config.Bucket, config: config}
	if config.CreateBucketIfNotExist {
		if err := backend.ensureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
		}
	}
	return backend, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (b *Backend) ensureBucket(ctx context.Context) error {
	exists, err := b.core.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := b.core.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.config.Region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) ObjectURI(key string) string {
	return objectkey.FormatURI(b.bucket, key)
}

func (b *Backend) PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error) {
	u, err := b.core.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "presign_put", Err: err}
	}
	return u.String(), nil
}

func (b *Backend) InitiateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	uploadID, err := b.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "initiate_multipart", Err: err}
	}
	return uploadID, nil
}

// PresignUploadPart signs a PUT of one part; partNumber and uploadId travel as query parameters.
func (b *Backend) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(int(partNumber)))
	params.Set("uploadId", uploadID)

	u, err := b.core.Presign(ctx, "PUT", bucket, key, expiry, params)
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "presign_upload_part", Err: err}
	}
	return u.String(), nil
}

func (b *Backend) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []simplemedia.CompletedPart) error {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag})
	}
	if _, err := b.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, complete, minio.PutObjectOptions{}); err != nil {
		if isNoSuchUpload(err) {
			err = fmt.Errorf("%w: %v", simplemedia.ErrUploadNotFound, err)
		}
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "complete_multipart", Err: err}
	}
	return nil
}

func (b *Backend) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	if err := b.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil && !isNoSuchUpload(err) {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "abort_multipart", Err: err}
	}
	return nil
}

func (b *Backend) ListParts(ctx context.Context, bucket, key, uploadID string) ([]simplemedia.CompletedPart, error) {
	var parts []simplemedia.CompletedPart
	marker := 0
	for {
		result, err := b.core.ListObjectParts(ctx, bucket, key, uploadID, marker, listPageSize)
		if err != nil {
			if isNoSuchUpload(err) {
				err = fmt.Errorf("%w: %v", simplemedia.ErrUploadNotFound, err)
			}
			return nil, &simplemedia.StorageError{Backend: backendName, Key: key, Op: "list_parts", Err: err}
		}
		for _, p := range result.ObjectParts {
			parts = append(parts, simplemedia.CompletedPart{PartNumber: int32(p.PartNumber), ETag: p.ETag, Size: p.Size})
		}
		if !result.IsTruncated {
			break
		}
		marker = result.NextPartNumberMarker
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func (b *Backend) GetObject(ctx context.Context, uri, localPath string) error {
	bucket, key, err := objectkey.ParseURI(uri)
	if err != nil {
		return err
	}
	if err := b.core.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			err = fmt.Errorf("%w: %v", simplemedia.ErrObjectNotFound, err)
		}
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "get_object", Err: err}
	}
	return nil
}

func (b *Backend) PutObject(ctx context.Context, bucket, key, localFile, contentType string) (string, error) {
	if _, err := b.core.FPutObject(ctx, bucket, key, localFile, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "put_object", Err: err}
	}
	return b.publicURL(key), nil
}

// ExpirationTags are set on raw objects a bucket lifecycle rule should expire.
var ExpirationTags = map[string]string{"lifecycle": "expire"}

func (b *Backend) MarkForExpiration(ctx context.Context, uri string) error {
	bucket, key, err := objectkey.ParseURI(uri)
	if err != nil {
		return err
	}
	t, err := tags.NewTags(ExpirationTags, true)
	if err != nil {
		return err
	}
	if err := b.core.PutObjectTagging(ctx, bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			err = fmt.Errorf("%w: %v", simplemedia.ErrObjectNotFound, err)
		}
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "mark_for_expiration", Err: err}
	}
	return nil
}

func (b *Backend) publicURL(key string) string {
	if b.config.PublicBaseURL != "" {
		return strings.TrimSuffix(b.config.PublicBaseURL, "/") + "/" + key
	}
	scheme := "http"
	if b.config.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, b.config.Endpoint, b.bucket, key)
}

func isNoSuchUpload(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchUpload"
}

var _ simplemedia.ObjectStore = (*Backend)(nil)

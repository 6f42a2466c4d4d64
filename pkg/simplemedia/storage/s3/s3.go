package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

const backendName = "s3"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// PublicBaseURL is the CDN or bucket URL produced artifacts are served from
	PublicBaseURL string

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3 implementation of simplemedia.ObjectStore
type Backend struct {
	client        *s3.Client
	bucket        string
	presignClient *s3.PresignClient
	config        Config
}

// New creates a new S3 object store
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)
	backend := &Backend{
		client:        client,
		bucket:        config.Bucket,
		presignClient: s3.NewPresignClient(client),
		config:        config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket in more than one way
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, createInput); err != nil {
		if hasErrorCode(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou") {
			return nil
		}
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

func (b *Backend) sse() (types.ServerSideEncryption, *string) {
	if !b.config.EnableSSE {
		return "", nil
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		return types.ServerSideEncryptionAes256, nil
	case "aws:kms":
		if b.config.SSEKMSKeyID != "" {
			return types.ServerSideEncryptionAwsKms, aws.String(b.config.SSEKMSKeyID)
		}
		return types.ServerSideEncryptionAwsKms, nil
	}
	return "", nil
}

// PresignPut returns a presigned URL for a single-request upload
func (b *Backend) PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	result, err := b.presignClient.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "presign_put", Err: err}
	}
	return result.URL, nil
}

func (b *Backend) InitiateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	out, err := b.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "initiate_multipart", Err: err}
	}
	return aws.ToString(out.UploadId), nil
}

func (b *Backend) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error) {
	result, err := b.presignClient.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		ContentLength: aws.Int64(contentLength),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "presign_upload_part", Err: err}
	}
	return result.URL, nil
}

func (b *Backend) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []simplemedia.CompletedPart) error {
	_, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: toCompletedParts(parts)},
	})
	if err != nil {
		if isNoSuchUpload(err) {
			err = fmt.Errorf("%w: %v", simplemedia.ErrUploadNotFound, err)
		}
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "complete_multipart", Err: err}
	}
	return nil
}

// AbortMultipart releases the upload. NoSuchUpload means it is already gone.
func (b *Backend) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil && !isNoSuchUpload(err) {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "abort_multipart", Err: err}
	}
	return nil
}

func (b *Backend) ListParts(ctx context.Context, bucket, key, uploadID string) ([]simplemedia.CompletedPart, error) {
	var parts []simplemedia.CompletedPart
	var marker *string
	for {
		out, err := b.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			if isNoSuchUpload(err) {
				err = fmt.Errorf("%w: %v", simplemedia.ErrUploadNotFound, err)
			}
			return nil, &simplemedia.StorageError{Backend: backendName, Key: key, Op: "list_parts", Err: err}
		}

		parts = append(parts, fromParts(out.Parts)...)
		if !aws.ToBool(out.IsTruncated) || out.NextPartNumberMarker == nil {
			break
		}
		marker = out.NextPartNumberMarker
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// GetObject downloads uri into localPath
func (b *Backend) GetObject(ctx context.Context, uri, localPath string) error {
	bucket, key, err := objectkey.ParseURI(uri)
	if err != nil {
		return err
	}

	f, err := os.Create(localPath)
	if err != nil {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "get_object", Err: err}
	}
	defer f.Close()

	downloader := manager.NewDownloader(b.client)
	if _, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || hasErrorCode(err, "NoSuchKey", "NotFound") {
			err = fmt.Errorf("%w: %v", simplemedia.ErrObjectNotFound, err)
		}
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "get_object", Err: err}
	}
	return f.Close()
}

// PutObject uploads localFile and returns its public URL
func (b *Backend) PutObject(ctx context.Context, bucket, key, localFile, contentType string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "put_object", Err: err}
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	uploader := manager.NewUploader(b.client)
	if _, err := uploader.Upload(ctx, input); err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "put_object", Err: err}
	}
	return publicURL(b.config, key), nil
}

// ExpirationTag is the tag a bucket lifecycle rule matches to expire raw uploads.
var ExpirationTag = types.Tag{Key: aws.String("lifecycle"), Value: aws.String("expire")}

// MarkForExpiration tags the object so the bucket lifecycle rule removes it
func (b *Backend) MarkForExpiration(ctx context.Context, uri string) error {
	bucket, key, err := objectkey.ParseURI(uri)
	if err != nil {
		return err
	}

	_, err = b.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: []types.Tag{ExpirationTag}},
	})
	if err != nil {
		if hasErrorCode(err, "NoSuchKey", "NotFound") {
			err = fmt.Errorf("%w: %v", simplemedia.ErrObjectNotFound, err)
		}
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "mark_for_expiration", Err: err}
	}
	return nil
}

func publicURL(config Config, key string) string {
	switch {
	case config.PublicBaseURL != "":
		return strings.TrimSuffix(config.PublicBaseURL, "/") + "/" + key
	case config.Endpoint != "":
		return strings.TrimSuffix(config.Endpoint, "/") + "/" + config.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", config.Bucket, config.Region, key)
	}
}

func toCompletedParts(parts []simplemedia.CompletedPart) []types.CompletedPart {
	out := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		out = append(out, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}
	return out
}

func fromParts(parts []types.Part) []simplemedia.CompletedPart {
	out := make([]simplemedia.CompletedPart, 0, len(parts))
	for _, p := range parts {
		out = append(out, simplemedia.CompletedPart{
			PartNumber: aws.ToInt32(p.PartNumber),
			ETag:       aws.ToString(p.ETag),
			Size:       aws.ToInt64(p.Size),
		})
	}
	return out
}

func isNoSuchUpload(err error) bool {
	var noSuchUpload *types.NoSuchUpload
	return errors.As(err, &noSuchUpload) || hasErrorCode(err, "NoSuchUpload")
}

func hasErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

var _ simplemedia.ObjectStore = (*Backend)(nil)

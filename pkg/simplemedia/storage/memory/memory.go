// Package memory provides an in-memory ObjectStore with a working multipart
// protocol. It is meant for tests and local development.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

const (
	backendName = "memory"

	// ExpirationTag is the tag key set by MarkForExpiration.
	ExpirationTag = "lifecycle"
)

type object struct {
	data        []byte
	contentType string
	tags        map[string]string
}

type part struct {
	data []byte
	etag string
}

type multipart struct {
	bucket      string
	key         string
	contentType string
	parts       map[int32]part
}

// Backend is an in-memory implementation of simplemedia.ObjectStore
type Backend struct {
	mu            sync.RWMutex
	bucket        string
	publicBaseURL string
	objects       map[string]*object
	uploads       map[string]*multipart
}

// New creates a new in-memory store for bucket. Public URLs are built from publicBaseURL.
func New(bucket, publicBaseURL string) *Backend {
	if publicBaseURL == "" {
		publicBaseURL = "memory://" + bucket
	}
	return &Backend{
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		objects:       make(map[string]*object),
		uploads:       make(map[string]*multipart),
	}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) ObjectURI(key string) string {
	return objectkey.FormatURI(b.bucket, key)
}

// PresignPut returns a fake URL; the memory backend only accepts uploads through PutBytes.
func (b *Backend) PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error) {
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(time.Now().Add(expiry).Unix(), 10))
	return fmt.Sprintf("memory://%s/%s?%s", bucket, key, q.Encode()), nil
}

func (b *Backend) InitiateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.uploads[id] = &multipart{
		bucket:      bucket,
		key:         key,
		contentType: contentType,
		parts:       make(map[int32]part),
	}
	return id, nil
}

func (b *Backend) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, contentLength int64, expiry time.Duration) (string, error) {
	b.mu.RLock()
	_, ok := b.uploads[uploadID]
	b.mu.RUnlock()
	if !ok {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "presign_upload_part", Err: simplemedia.ErrUploadNotFound}
	}

	q := url.Values{}
	q.Set("uploadId", uploadID)
	q.Set("partNumber", strconv.Itoa(int(partNumber)))
	q.Set("contentLength", strconv.FormatInt(contentLength, 10))
	q.Set("expires", strconv.FormatInt(time.Now().Add(expiry).Unix(), 10))
	return fmt.Sprintf("memory://%s/%s?%s", bucket, key, q.Encode()), nil
}

// PutPart stores one part of an open upload as a client would through its presigned URL.
// It returns the quoted ETag the way S3 does.
func (b *Backend) PutPart(uploadID string, partNumber int32, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mp, ok := b.uploads[uploadID]
	if !ok {
		return "", &simplemedia.StorageError{Backend: backendName, Key: uploadID, Op: "put_part", Err: simplemedia.ErrUploadNotFound}
	}
	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	mp.parts[partNumber] = part{data: append([]byte(nil), data...), etag: etag}
	return etag, nil
}

func (b *Backend) ListParts(ctx context.Context, bucket, key, uploadID string) ([]simplemedia.CompletedPart, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mp, ok := b.uploads[uploadID]
	if !ok {
		return nil, &simplemedia.StorageError{Backend: backendName, Key: key, Op: "list_parts", Err: simplemedia.ErrUploadNotFound}
	}
	parts := make([]simplemedia.CompletedPart, 0, len(mp.parts))
	for n, p := range mp.parts {
		parts = append(parts, simplemedia.CompletedPart{PartNumber: n, ETag: p.etag, Size: int64(len(p.data))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func (b *Backend) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []simplemedia.CompletedPart) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	mp, ok := b.uploads[uploadID]
	if !ok {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "complete_multipart", Err: simplemedia.ErrUploadNotFound}
	}

	var buf bytes.Buffer
	for _, p := range parts {
		stored, ok := mp.parts[p.PartNumber]
		if !ok || (stored.etag != p.ETag && stored.etag != `"`+p.ETag+`"`) {
			return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "complete_multipart", Err: fmt.Errorf("invalid part %d", p.PartNumber)}
		}
		buf.Write(stored.data)
	}

	b.objects[objectID(mp.bucket, mp.key)] = &object{data: buf.Bytes(), contentType: mp.contentType, tags: map[string]string{}}
	delete(b.uploads, uploadID)
	return nil
}

// AbortMultipart drops the session. An unknown upload id is not an error.
func (b *Backend) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.uploads, uploadID)
	return nil
}

func (b *Backend) GetObject(ctx context.Context, uri, localPath string) error {
	bucket, key, err := objectkey.ParseURI(uri)
	if err != nil {
		return err
	}

	b.mu.RLock()
	obj, ok := b.objects[objectID(bucket, key)]
	var data []byte
	if ok {
		data = append([]byte(nil), obj.data...)
	}
	b.mu.RUnlock()
	if !ok {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "get_object", Err: simplemedia.ErrObjectNotFound}
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "get_object", Err: err}
	}
	return nil
}

func (b *Backend) PutObject(ctx context.Context, bucket, key, localFile, contentType string) (string, error) {
	data, err := os.ReadFile(localFile)
	if err != nil {
		return "", &simplemedia.StorageError{Backend: backendName, Key: key, Op: "put_object", Err: err}
	}
	b.PutBytes(bucket, key, data, contentType)
	return b.PublicURL(key), nil
}

func (b *Backend) MarkForExpiration(ctx context.Context, uri string) error {
	bucket, key, err := objectkey.ParseURI(uri)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[objectID(bucket, key)]
	if !ok {
		return &simplemedia.StorageError{Backend: backendName, Key: key, Op: "mark_for_expiration", Err: simplemedia.ErrObjectNotFound}
	}
	obj.tags[ExpirationTag] = "expire"
	return nil
}

// PublicURL returns the URL a stored key is served from
func (b *Backend) PublicURL(key string) string {
	return b.publicBaseURL + "/" + key
}

// PutBytes stores an object directly
func (b *Backend) PutBytes(bucket, key string, data []byte, contentType string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[objectID(bucket, key)] = &object{data: append([]byte(nil), data...), contentType: contentType, tags: map[string]string{}}
}

// Object returns a copy of a stored object and its content type
func (b *Backend) Object(bucket, key string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectID(bucket, key)]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Tags returns a copy of the tags of a stored object
func (b *Backend) Tags(bucket, key string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectID(bucket, key)]
	if !ok {
		return nil
	}
	tags := make(map[string]string, len(obj.tags))
	for k, v := range obj.tags {
		tags[k] = v
	}
	return tags
}

// Keys lists stored object keys in bucket, sorted
func (b *Backend) Keys(bucket string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	prefix := bucket + "/"
	var keys []string
	for id := range b.objects {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			keys = append(keys, id[len(prefix):])
		}
	}
	sort.Strings(keys)
	return keys
}

// OpenUploads reports how many multipart sessions are still open
func (b *Backend) OpenUploads() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.uploads)
}

var _ simplemedia.ObjectStore = (*Backend)(nil)

// Package simplemedia ingests large media uploads through a multipart upload
// protocol and turns the raw objects into streaming-ready artifacts.
//
// The root package holds the domain model (ContentItem, TranscodeJob, upload
// sessions and part plans) and the collaborator interfaces the rest of the
// module is written against: ObjectStore for the S3-compatible object store
// and Repository for content metadata. Implementations live in subpackages
// (storage/s3, storage/minio, storage/memory, repo/memory, repo/postgres).
//
// Processing Model
//
// Uploads are committed by the upload Coordinator, which flips the content
// item to StatusRawUploaded. The scheduler periodically rediscovers such
// items and feeds a bounded, deduplicated queue that a fixed worker pool
// drains. A failed transform leaves the status untouched, so the next scan
// retries it; there is no in-process retry.
package simplemedia

// Package store provides the durable backends of the closet service: the
// S3-compatible uploads bucket and the Postgres pool for approvals and
// user profiles.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stylingadventures/closetd/internal/apperr"
	"github.com/stylingadventures/closetd/internal/config"
)

// SourceMetaKey is the user-metadata key recording which original a
// derived object was generated from.
const SourceMetaKey = "source"

// ObjectInfo is one listed or statted object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType,omitempty"`
	// Metadata holds x-amz-meta-* values without the prefix.
	Metadata map[string]string `json:"-"`
}

// ListResult is one page of a bucket listing.
type ListResult struct {
	Items       []ObjectInfo `json:"items"`
	IsTruncated bool         `json:"isTruncated"`
	// NextToken is the key to resume after; empty when the listing is done.
	NextToken string `json:"nextToken,omitempty"`
}

// ObjectStore wraps the uploads bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore validates the storage settings and creates the client.
func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)

	if cfg.Endpoint == "" {
		return nil, &apperr.ConfigurationError{Setting: "storage.endpoint", Message: "endpoint is required"}
	}
	if cfg.Bucket == "" {
		return nil, &apperr.ConfigurationError{Setting: "storage.bucket", Message: "bucket is required"}
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, &apperr.ConfigurationError{Setting: "storage.access-key", Message: "credentials are required"}
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// Bucket returns the configured bucket name.
func (s *ObjectStore) Bucket() string { return s.bucket }

// List returns up to max objects under prefix, resuming after startAfter.
func (s *ObjectStore) List(ctx context.Context, prefix, startAfter string, max int) (*ListResult, error) {
	if max <= 0 {
		max = 50
	}
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectCh := s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: startAfter,
	})

	result := &ListResult{Items: make([]ObjectInfo, 0, max)}
	for object := range objectCh {
		if object.Err != nil {
			return nil, &apperr.UpstreamError{Op: "list objects", Cause: object.Err}
		}
		if len(result.Items) == max {
			result.IsTruncated = true
			result.NextToken = result.Items[max-1].Key
			break
		}
		result.Items = append(result.Items, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return result, nil
}

// Stat probes an object's existence. A missing object is a NotFoundError;
// anything else is upstream trouble.
func (s *ObjectStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, &apperr.NotFoundError{Kind: "object", ID: key}
		}
		return nil, &apperr.UpstreamError{Op: "stat object", Cause: err}
	}
	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     flattenMeta(info.UserMetadata),
	}, nil
}

// Get reads an object's full content.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &apperr.UpstreamError{Op: "get object", Cause: err}
	}
	defer func() { _ = object.Close() }()

	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, &apperr.NotFoundError{Kind: "object", ID: key}
		}
		return nil, &apperr.UpstreamError{Op: "read object", Cause: err}
	}
	return data, nil
}

// Put writes an object with content type and user metadata.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return &apperr.UpstreamError{Op: "put object", Cause: err}
	}
	return nil
}

// Delete removes an object. Deleting an absent key is not an error.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isObjectNotFound(err) {
		return &apperr.UpstreamError{Op: "delete object", Cause: err}
	}
	return nil
}

// PresignPut mints an upload URL the browser PUTs to directly.
func (s *ObjectStore) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expiry)
	if err != nil {
		return "", &apperr.UpstreamError{Op: "presign put", Cause: err}
	}
	return u.String(), nil
}

// PresignGet mints a download URL for a stored object.
func (s *ObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", &apperr.UpstreamError{Op: "presign get", Cause: err}
	}
	return u.String(), nil
}

func flattenMeta(meta minio.StringMap) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[strings.ToLower(k)] = v
	}
	return out
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}

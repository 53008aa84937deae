package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/facepipeline/internal/config"
)

// parseTimestampFromKey extracts the unix-seconds day a key was written
// on. Frame and detection keys begin with a "DD-MM-YYYY/" date segment
// (spec.md §4.1-§4.2); the rest of the key names the object itself and
// carries no retention-relevant timestamp. Recognition keys begin with
// the identity uuid instead, so they do not parse here.
func parseTimestampFromKey(key string) (int64, bool) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) < 2 {
		return 0, false
	}
	t, err := time.Parse("02-01-2006", parts[0])
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

// MinIOStore serves the three blob buckets named in SPEC_FULL.md §2:
// frames (raw captured PNGs), detections (cropped face PNGs),
// recognitions (a copy of the same crop, made once identity is known). One
// client, one method set, bucket selected per call — generalized from
// the teacher's single-bucket MinIOStore.
type MinIOStore struct {
	client             *minio.Client
	framesBucket       string
	detectionsBucket   string
	recognitionsBucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client:             client,
		framesBucket:       cfg.FramesBucket,
		detectionsBucket:   cfg.DetectionsBucket,
		recognitionsBucket: cfg.RecognitionsBucket,
	}, nil
}

// EnsureBuckets creates all three buckets if they don't already exist.
func (s *MinIOStore) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.framesBucket, s.detectionsBucket, s.recognitionsBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *MinIOStore) FramesBucket() string       { return s.framesBucket }
func (s *MinIOStore) DetectionsBucket() string   { return s.detectionsBucket }
func (s *MinIOStore) RecognitionsBucket() string { return s.recognitionsBucket }

// PutObject uploads data to the given bucket under key.
func (s *MinIOStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// GetObject retrieves data from the given bucket by key.
func (s *MinIOStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// CopyObject copies an object between buckets without a round trip
// through the caller — used when a detection crop is promoted into the
// recognitions bucket once its identity is resolved.
func (s *MinIOStore) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey}
	dst := minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey}
	_, err := s.client.CopyObject(ctx, dst, src)
	if err != nil {
		return fmt.Errorf("copy object %s/%s -> %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

// DeleteObject removes an object from the given bucket.
func (s *MinIOStore) DeleteObject(ctx context.Context, bucket, key string) error {
	return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

// ListObjects returns all object keys under the given prefix, in the order MinIO returns them.
func (s *MinIOStore) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// DeleteObjects removes multiple objects from one bucket in a single batch request.
func (s *MinIOStore) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s/%s: %w", bucket, result.ObjectName, result.Err)
		}
	}
	return nil
}

// ExpireOlderThan deletes every object under prefix whose leading
// "DD-MM-YYYY/" date segment is older than cutoffUnix. No binary in this
// module calls it; config.StorageConfig.FrameRetention is not wired to it.
func (s *MinIOStore) ExpireOlderThan(ctx context.Context, bucket, prefix string, cutoffUnix int64) error {
	keys, err := s.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return fmt.Errorf("list expiring objects: %w", err)
	}
	var stale []string
	for _, key := range keys {
		ts, ok := parseTimestampFromKey(key)
		if ok && ts < cutoffUnix {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return s.DeleteObjects(ctx, bucket, stale)
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.framesBucket)
	return err
}

package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/opencontainers/go-digest"
)

// User-metadata keys stored on cache objects.
const (
	objectMetaStage   = "Stage"
	objectMetaPayload = "Payload-Digest"
)

// Configures access to an S3-compatible object store.
type ObjectConfig struct {
	Endpoint  string // Host and port of the object store.
	Region    string // Region, defaults to us-east-1.
	AccessKey string // Access key ID.
	SecretKey string // Secret access key.
	Bucket    string // Bucket holding cache entries.
	UseSSL    bool   // Whether to connect over TLS.
}

// Store backed by an S3-compatible object store, for caches shared across
// machines.
//
// Each entry is a single object keyed by fingerprint with the producing
// stage and payload digest attached as user metadata. Idempotent commit
// is enforced by comparing payload digests before overwriting; the object
// store's last-writer-wins semantics make a lost race with byte-identical
// content harmless.
type ObjectStore struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// Creates an object store from the given configuration.
//
// The bucket is created on first use if it does not exist.
func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		region: region,
	}, nil
}

// Reports whether an artifact is committed under the fingerprint.
func (s *ObjectStore) Has(ctx context.Context, fp digest.Digest) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.bucket, objectKey(fp), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache object: %w", err)
	}
	return true, nil
}

// Returns the artifact committed under the fingerprint, or [ErrMiss].
//
// The downloaded payload is verified against the digest recorded at
// commit time.
func (s *ObjectStore) Get(ctx context.Context, fp digest.Digest) (*Artifact, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(fp), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching cache object: %w", err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", fp, ErrMiss)
		}
		return nil, fmt.Errorf("reading cache object: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading cache object metadata: %w", err)
	}

	if committed := digest.Digest(stat.UserMetadata[objectMetaPayload]); committed != "" {
		if got := digest.FromBytes(payload); got != committed {
			return nil, fmt.Errorf("%s: payload digest %s does not match committed %s: %w",
				fp, got, committed, ErrCorrupted)
		}
	}

	return &Artifact{
		Payload: payload,
		Stage:   stat.UserMetadata[objectMetaStage],
		Created: stat.LastModified,
	}, nil
}

// Commits an artifact under the fingerprint.
func (s *ObjectStore) Put(ctx context.Context, fp digest.Digest, artifact *Artifact) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	incoming := digest.FromBytes(artifact.Payload)

	stat, err := s.client.StatObject(ctx, s.bucket, objectKey(fp), minio.StatObjectOptions{})
	if err == nil {
		committed := digest.Digest(stat.UserMetadata[objectMetaPayload])
		if committed == incoming {
			slog.Debug("cache object already committed", "fingerprint", fp)
			return nil
		}
		return fmt.Errorf("%s: commit of payload %s conflicts with committed %s: %w",
			fp, incoming, committed, ErrCorrupted)
	}
	if !isNotFound(err) {
		return fmt.Errorf("checking cache object: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectKey(fp),
		bytes.NewReader(artifact.Payload), artifact.Size(),
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			UserMetadata: map[string]string{
				objectMetaStage:   artifact.Stage,
				objectMetaPayload: incoming.String(),
			},
		})
	if err != nil {
		return fmt.Errorf("committing cache object: %w", err)
	}

	slog.Debug("cache object committed", "fingerprint", fp, "stage", artifact.Stage, "size", artifact.Size())
	return nil
}

// Removes the entries selected by the policy.
//
// Access times are not tracked remotely; the object's last-modified time
// stands in for both creation and last access.
func (s *ObjectStore) Evict(ctx context.Context, policy Policy) (int, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return 0, err
	}

	var entries []EntryInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("listing cache objects: %w", obj.Err)
		}
		fp := keyDigest(obj.Key)
		if fp.Validate() != nil {
			continue
		}
		entries = append(entries, EntryInfo{
			Fingerprint: fp,
			Size:        obj.Size,
			Created:     obj.LastModified,
			LastAccess:  obj.LastModified,
		})
	}

	removed := 0
	for _, fp := range policy.Plan(entries) {
		if err := s.client.RemoveObject(ctx, s.bucket, objectKey(fp), minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("evicting %s: %w", fp, err)
		}
		removed++
	}
	return removed, nil
}

// Creates the bucket on first use.
func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = fmt.Errorf("checking cache bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			s.initErr = fmt.Errorf("creating cache bucket: %w", err)
		}
	})
	return s.initErr
}

// Recovers a fingerprint from an object key.
func keyDigest(key string) digest.Digest {
	return digest.Digest(strings.Replace(key, "/", ":", 1))
}

// Returns the object key for a fingerprint.
func objectKey(fp digest.Digest) string {
	return fp.Algorithm().String() + "/" + fp.Encoded()
}

// Reports whether an object-store error means the object does not exist.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}

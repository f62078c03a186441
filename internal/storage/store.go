// Package storage persists profile artifacts to a local directory or a
// gocloud.dev bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob" // mem:// buckets
	_ "gocloud.dev/blob/s3blob"  // s3:// buckets
	"gocloud.dev/gcerrors"
)

// Artifact naming shared with the middleware.
const (
	ArtifactPrefix = "stackprof-"
	ArtifactSuffix = ".dump"
)

// Artifact describes a stored profile.
type Artifact struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store is where profile artifacts end up.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
	List(ctx context.Context) ([]Artifact, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

const (
	writeRetries       = 3
	writeRetryInterval = 100 * time.Millisecond
)

// ErrNotFound is returned by Open for unknown artifacts.
var ErrNotFound = errors.New("artifact not found")

// BlobStore is a Store backed by a gocloud.dev bucket.
type BlobStore struct {
	bucket *blob.Bucket
	where  string
}

// Open opens the result directory. A value with a URL scheme is handed to
// blob.OpenBucket; anything else is a local directory, created on demand.
func Open(ctx context.Context, resultDirectory string) (*BlobStore, error) {
	if resultDirectory == "" {
		return nil, fmt.Errorf("storage: empty result directory")
	}

	if isURL(resultDirectory) {
		b, err := blob.OpenBucket(ctx, resultDirectory)
		if err != nil {
			return nil, fmt.Errorf("storage: open bucket %s: %w", resultDirectory, err)
		}
		return &BlobStore{bucket: b, where: resultDirectory}, nil
	}

	dir, err := filepath.Abs(resultDirectory)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", resultDirectory, err)
	}
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open directory %s: %w", dir, err)
	}
	return &BlobStore{bucket: b, where: dir}, nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(b *blob.Bucket, where string) *BlobStore {
	return &BlobStore{bucket: b, where: where}
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && len(u.Scheme) > 1 && strings.Contains(s, "://")
}

// Location returns the directory or bucket URL artifacts are written to.
func (s *BlobStore) Location() string {
	return s.where
}

// Write stores data under name, replacing any artifact with the same name.
// Transient bucket errors are retried with exponential backoff until ctx ends.
func (s *BlobStore) Write(ctx context.Context, name string, data []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = writeRetryInterval
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := s.bucket.WriteAll(ctx, name, data, &blob.WriterOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, writeRetries), ctx))
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}

func retryable(err error) bool {
	switch gcerrors.Code(err) {
	case gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.FailedPrecondition,
		gcerrors.NotFound, gcerrors.Unimplemented, gcerrors.Canceled, gcerrors.DeadlineExceeded:
		return false
	}
	return true
}

// List returns stored artifacts, newest first.
func (s *BlobStore) List(ctx context.Context) ([]Artifact, error) {
	var out []Artifact
	iter := s.bucket.List(&blob.ListOptions{Prefix: ArtifactPrefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ArtifactSuffix) {
			continue
		}
		out = append(out, Artifact{Name: obj.Key, Size: obj.Size, ModTime: obj.ModTime})
	}
	slices.SortFunc(out, func(a, b Artifact) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return out, nil
}

// Open returns a reader for a stored artifact.
func (s *BlobStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	r, err := s.bucket.NewReader(ctx, name, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: open %s: %w", name, err)
	}
	return r, nil
}

// Close releases the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

// ValidName reports whether name looks like an artifact written by the
// middleware. It keeps path separators and traversal out of Open.
func ValidName(name string) bool {
	if !strings.HasPrefix(name, ArtifactPrefix) || !strings.HasSuffix(name, ArtifactSuffix) {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.':
		default:
			return false
		}
	}
	return !strings.Contains(name, "..")
}

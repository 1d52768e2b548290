package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Buckets used by the application.
const (
	BucketAvatars    = "avatars"
	BucketPostImages = "post-images"
)

const publicPathPrefix = "/storage"

var (
	ErrInvalidObjectPath = errors.New("storage: invalid object path")
	ErrObjectExists      = errors.New("storage: object already exists")
	ErrObjectNotFound    = errors.New("storage: object not found")
	errMissingRoot       = errors.New("storage: root directory required")
)

// Config describes how to build a BlobStore.
type Config struct {
	// Filesystem overrides the OS filesystem rooted at Root; tests pass afero.NewMemMapFs().
	Filesystem    afero.Fs
	Root          string
	PublicBaseURL string
	Logger        *zap.Logger
}

// BlobStore keeps uploaded objects in per-bucket directories.
type BlobStore struct {
	fs            afero.Fs
	publicBaseURL string
	logger        *zap.Logger
}

// NewBlobStore constructs a BlobStore.
func NewBlobStore(cfg Config) (*BlobStore, error) {
	fs := cfg.Filesystem
	if fs == nil {
		root := strings.TrimSpace(cfg.Root)
		if root == "" {
			return nil, errMissingRoot
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create root: %w", err)
		}
		fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		fs:            fs,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Upload writes data under bucket/objectPath. Without overwrite an existing
// object yields ErrObjectExists.
func (s *BlobStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := objectKey(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return fmt.Errorf("storage: create bucket directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	file, err := s.fs.OpenFile(key, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrObjectExists
		}
		return fmt.Errorf("storage: open object: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("storage: write object: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("storage: close object: %w", err)
	}

	s.logger.Debug("blob uploaded",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int("bytes", len(data)))
	return nil
}

// PublicURL returns the retrieval URL for an object.
func (s *BlobStore) PublicURL(bucket, objectPath string) string {
	return s.publicBaseURL + publicPathPrefix + "/" + bucket + "/" + strings.TrimLeft(path.Clean("/"+objectPath), "/")
}

// Open returns a reader over a stored object together with its size.
func (s *BlobStore) Open(bucket, objectPath string) (io.ReadSeekCloser, int64, error) {
	key, err := objectKey(bucket, objectPath)
	if err != nil {
		return nil, 0, err
	}
	info, err := s.fs.Stat(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrObjectNotFound
		}
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, ErrObjectNotFound
	}
	file, err := s.fs.Open(key)
	if err != nil {
		return nil, 0, err
	}
	return file, info.Size(), nil
}

func objectKey(bucket, objectPath string) (string, error) {
	switch bucket {
	case BucketAvatars, BucketPostImages:
	default:
		return "", fmt.Errorf("%w: unknown bucket %q", ErrInvalidObjectPath, bucket)
	}
	trimmed := strings.TrimSpace(objectPath)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidObjectPath)
	}
	for _, segment := range strings.Split(strings.ReplaceAll(trimmed, "\\", "/"), "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: parent traversal", ErrInvalidObjectPath)
		}
	}
	cleaned := strings.TrimLeft(path.Clean("/"+trimmed), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidObjectPath)
	}
	return path.Join(bucket, cleaned), nil
}

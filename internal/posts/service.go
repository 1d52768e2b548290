package posts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew    = "posts.service.new"
	opList          = "posts.list"
	opListByAuthor  = "posts.list_by_author"
	opCreate        = "posts.create"
	opDelete        = "posts.delete"
	orderNewest     = "created_at DESC"
	queryIDAndOwner = "id = ? AND user_id = ?"

	DefaultFetchLimit      = 50
	DefaultMaxContentChars = 400
	defaultImageMaxBytes   = 5 * 1024 * 1024
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingBlobStore  = errors.New("blob store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAuthor     = errors.New("author id is required")
)

// BlobStore is the subset of the blob store used for post images.
type BlobStore interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, overwrite bool) error
	PublicURL(bucket, objectPath string) string
}

// ServiceConfig describes the dependencies of the feed service.
type ServiceConfig struct {
	Database        *gorm.DB
	Blobs           BlobStore
	IDProvider      ids.Provider
	FetchLimit      int
	MaxContentChars int
	ImageMaxBytes   int64
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Service lists, creates and deletes feed posts.
type Service struct {
	db              *gorm.DB
	blobs           BlobStore
	idProvider      ids.Provider
	fetchLimit      int
	maxContentChars int
	imageMaxBytes   int64
	clock           func() time.Time
	logger          *zap.Logger
}

// CreateRequest carries the raw composer input. Image is nil when no image
// was attached.
type CreateRequest struct {
	Content string
	Image   io.Reader
}

// NewService constructs the feed service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Store(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Blobs == nil {
		return nil, apperr.Store(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Store(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	fetchLimit := cfg.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	maxContentChars := cfg.MaxContentChars
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	imageMaxBytes := cfg.ImageMaxBytes
	if imageMaxBytes <= 0 {
		imageMaxBytes = defaultImageMaxBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:              cfg.Database,
		blobs:           cfg.Blobs,
		idProvider:      cfg.IDProvider,
		fetchLimit:      fetchLimit,
		maxContentChars: maxContentChars,
		imageMaxBytes:   imageMaxBytes,
		clock:           clock,
		logger:          logger,
	}, nil
}

// FetchLimit reports the upper bound applied to list operations.
func (s *Service) FetchLimit() int {
	return s.fetchLimit
}

// MaxContentChars reports the content cap in characters.
func (s *Service) MaxContentChars() int {
	return s.maxContentChars
}

// List returns the most recent posts, newest first, with their authors.
// A non-positive or oversized limit falls back to the configured fetch limit.
func (s *Service) List(ctx context.Context, limit int) ([]FeedItem, error) {
	var rows []Post
	err := s.db.WithContext(ctx).
		Preload("Author").
		Order(orderNewest).
		Limit(s.boundLimit(limit)).
		Find(&rows).Error
	if err != nil {
		s.logError(opList, "query_failed", err)
		return nil, apperr.Store(opList, "query_failed", err)
	}

	items := make([]FeedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, feedItemFromPost(row))
	}
	return items, nil
}

// ListByAuthor returns the posts of one user, newest first.
func (s *Service) ListByAuthor(ctx context.Context, userID string, limit int) ([]Post, error) {
	var rows []Post
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(orderNewest).
		Limit(s.boundLimit(limit)).
		Find(&rows).Error
	if err != nil {
		s.logError(opListByAuthor, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.Store(opListByAuthor, "query_failed", err)
	}
	return rows, nil
}

// ValidateContent trims content and checks it against the composer rules.
// hasImage reports whether an image accompanies the content.
func ValidateContent(content string, hasImage bool, maxChars int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && !hasImage {
		return "", apperr.Validation(opCreate, "empty_post", "Write something or attach an image.")
	}
	if utf8.RuneCountInString(trimmed) > maxChars {
		return "", apperr.Validation(opCreate, "content_too_long",
			fmt.Sprintf("Posts are limited to %d characters.", maxChars))
	}
	return trimmed, nil
}

// Create publishes a post authored by authorID. Content and image are
// validated before any I/O; an image is uploaded before the row is inserted
// and an upload failure leaves no row behind.
func (s *Service) Create(ctx context.Context, authorID string, request CreateRequest) (Post, error) {
	if authorID == "" {
		return Post{}, apperr.Store(opCreate, "missing_author", errMissingAuthor)
	}
	content, err := ValidateContent(request.Content, request.Image != nil, s.maxContentChars)
	if err != nil {
		return Post{}, err
	}

	var imageURL *string
	if request.Image != nil {
		url, err := s.uploadImage(ctx, authorID, request.Image)
		if err != nil {
			return Post{}, err
		}
		imageURL = &url
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", authorID))
		return Post{}, apperr.Store(opCreate, "id_generation_failed", err)
	}

	post := Post{
		ID:        postID,
		UserID:    authorID,
		ImageURL:  imageURL,
		CreatedAt: s.clock().UTC(),
	}
	if content != "" {
		post.Content = &content
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&post).Error; err != nil {
		s.logError(opCreate, "post_insert_failed", err,
			zap.String("user_id", authorID),
			zap.String("post_id", postID))
		return Post{}, apperr.Store(opCreate, "post_insert_failed", err)
	}

	s.logger.Info("post created",
		zap.String("user_id", authorID),
		zap.String("post_id", postID),
		zap.Bool("has_image", imageURL != nil))
	return post, nil
}

// Delete removes the post with postID when actorID owns it. Missing posts
// and posts owned by someone else both report NOT_FOUND.
func (s *Service) Delete(ctx context.Context, actorID, postID string) error {
	result := s.db.WithContext(ctx).
		Where(queryIDAndOwner, postID, actorID).
		Delete(&Post{})
	if result.Error != nil {
		s.logError(opDelete, "post_delete_failed", result.Error,
			zap.String("user_id", actorID),
			zap.String("post_id", postID))
		return apperr.Store(opDelete, "post_delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(opDelete, "post_not_found").WithMessage("Post not found.")
	}
	s.logger.Info("post deleted", zap.String("user_id", actorID), zap.String("post_id", postID))
	return nil
}

func (s *Service) uploadImage(ctx context.Context, authorID string, payload io.Reader) (string, error) {
	data, err := storage.ReadLimited(payload, s.imageMaxBytes)
	if errors.Is(err, storage.ErrPayloadTooLarge) {
		return "", apperr.Validation(opCreate, "image_too_large", storage.ImageValidationMessage(err, s.imageMaxBytes))
	}
	if err != nil {
		return "", apperr.Validation(opCreate, "image_unreadable", storage.ImageValidationMessage(err, s.imageMaxBytes))
	}
	image, err := storage.ValidateImage(data, s.imageMaxBytes)
	if err != nil {
		return "", apperr.Validation(opCreate, "invalid_image", storage.ImageValidationMessage(err, s.imageMaxBytes))
	}

	name, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", authorID))
		return "", apperr.Store(opCreate, "id_generation_failed", err)
	}
	objectPath := authorID + "/" + name + image.Extension
	if err := s.blobs.Upload(ctx, storage.BucketPostImages, objectPath, data, false); err != nil {
		s.logError(opCreate, "upload_failed", err, zap.String("user_id", authorID))
		return "", apperr.Store(opCreate, "upload_failed", err)
	}
	return s.blobs.PublicURL(storage.BucketPostImages, objectPath), nil
}

func (s *Service) boundLimit(limit int) int {
	if limit <= 0 || limit > s.fetchLimit {
		return s.fetchLimit
	}
	return limit
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("posts service error", attrs...)
}

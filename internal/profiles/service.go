package profiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew    = "profiles.service.new"
	opGetOrCreate   = "profiles.get_or_create"
	opGet           = "profiles.get"
	opUpdate        = "profiles.update"
	opUploadAvatar  = "profiles.upload_avatar"
	maxNameChars    = 200
	maxBioChars     = 2000
	defaultAvatarMB = 3
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingBlobStore = errors.New("blob store is required")
	errMissingIdentity  = errors.New("identity id is required")
)

// BlobStore is the subset of the blob store used for avatars.
type BlobStore interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, overwrite bool) error
	PublicURL(bucket, objectPath string) string
}

// ServiceConfig describes the dependencies of the profile service.
type ServiceConfig struct {
	Database       *gorm.DB
	Blobs          BlobStore
	AvatarMaxBytes int64
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Service bootstraps and edits profiles.
type Service struct {
	db             *gorm.DB
	blobs          BlobStore
	avatarMaxBytes int64
	now            func() time.Time
	logger         *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Store(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Blobs == nil {
		return nil, apperr.Store(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}
	maxBytes := cfg.AvatarMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultAvatarMB * 1024 * 1024
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
		db:             cfg.Database,
		blobs:          cfg.Blobs,
		avatarMaxBytes: maxBytes,
		now:            clock,
		logger:         logger,
	}, nil
}

// GetOrCreate returns the profile of identity, creating an empty one the
// first time the identity is seen. Repeated calls return the stored profile
// unchanged.
func (s *Service) GetOrCreate(ctx context.Context, identity auth.Identity) (Profile, error) {
	if identity.ID == "" {
		return Profile{}, apperr.Store(opGetOrCreate, "missing_identity", errMissingIdentity)
	}

	profile, err := s.fetch(ctx, identity.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opGetOrCreate, "profile_select_failed", err, zap.String("user_id", identity.ID))
		return Profile{}, apperr.Store(opGetOrCreate, "profile_select_failed", err)
	}

	created := Profile{
		ID:    identity.ID,
		Email: identity.Email,
	}
	if insertErr := s.db.WithContext(ctx).Create(&created).Error; insertErr != nil {
		// A concurrent bootstrap for the same identity may have won the
		// primary key; its row is the profile.
		existing, fetchErr := s.fetch(ctx, identity.ID)
		if fetchErr == nil {
			s.logger.Info("profile bootstrap lost insert race", zap.String("user_id", identity.ID))
			return existing, nil
		}
		s.logError(opGetOrCreate, "profile_insert_failed", insertErr, zap.String("user_id", identity.ID))
		return Profile{}, apperr.Store(opGetOrCreate, "profile_insert_failed", insertErr)
	}

	profile, err = s.fetch(ctx, identity.ID)
	if err != nil {
		s.logError(opGetOrCreate, "profile_refetch_failed", err, zap.String("user_id", identity.ID))
		return Profile{}, apperr.Store(opGetOrCreate, "profile_refetch_failed", err)
	}
	s.logger.Info("profile created", zap.String("user_id", identity.ID))
	return profile, nil
}

// Get returns the profile with the given id for read-only display.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	profile, err := s.fetch(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, apperr.NotFound(opGet, "profile_not_found").WithMessage("User not found.")
	}
	if err != nil {
		s.logError(opGet, "profile_select_failed", err, zap.String("user_id", id))
		return Profile{}, apperr.Store(opGet, "profile_select_failed", err)
	}
	return profile, nil
}

// Update saves the editable fields of the profile owned by id.
func (s *Service) Update(ctx context.Context, id string, update ProfileUpdate) (Profile, error) {
	fullName := normalizeText(update.FullName)
	major := normalizeText(update.Major)
	bio := normalizeText(update.Bio)

	if fullName != nil && utf8.RuneCountInString(*fullName) > maxNameChars {
		return Profile{}, apperr.Validation(opUpdate, "full_name_too_long",
			fmt.Sprintf("Full name must be at most %d characters.", maxNameChars))
	}
	if major != nil && utf8.RuneCountInString(*major) > maxNameChars {
		return Profile{}, apperr.Validation(opUpdate, "major_too_long",
			fmt.Sprintf("Major must be at most %d characters.", maxNameChars))
	}
	if bio != nil && utf8.RuneCountInString(*bio) > maxBioChars {
		return Profile{}, apperr.Validation(opUpdate, "bio_too_long",
			fmt.Sprintf("Bio must be at most %d characters.", maxBioChars))
	}
	if update.GradYear != nil && (*update.GradYear < MinGradYear || *update.GradYear > MaxGradYear) {
		return Profile{}, apperr.Validation(opUpdate, "grad_year_out_of_range",
			fmt.Sprintf("Graduation year must be between %d and %d.", MinGradYear, MaxGradYear))
	}

	result := s.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"full_name":  fullName,
			"major":      major,
			"grad_year":  update.GradYear,
			"bio":        bio,
			"updated_at": s.now().UTC(),
		})
	if result.Error != nil {
		s.logError(opUpdate, "profile_update_failed", result.Error, zap.String("user_id", id))
		return Profile{}, apperr.Store(opUpdate, "profile_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Profile{}, apperr.NotFound(opUpdate, "profile_not_found")
	}

	profile, err := s.fetch(ctx, id)
	if err != nil {
		s.logError(opUpdate, "profile_refetch_failed", err, zap.String("user_id", id))
		return Profile{}, apperr.Store(opUpdate, "profile_refetch_failed", err)
	}
	return profile, nil
}

// UploadAvatar validates an image read from payload, stores it as the
// avatar of id and records its public URL. Validation happens before any
// blob store call; any failure leaves avatar_url unchanged.
func (s *Service) UploadAvatar(ctx context.Context, id string, payload io.Reader) (Profile, error) {
	data, err := storage.ReadLimited(payload, s.avatarMaxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrPayloadTooLarge) {
			return Profile{}, apperr.Validation(opUploadAvatar, "image_too_large",
				storage.ImageValidationMessage(err, s.avatarMaxBytes))
		}
		return Profile{}, apperr.Validation(opUploadAvatar, "image_unreadable",
			storage.ImageValidationMessage(err, s.avatarMaxBytes))
	}
	image, err := storage.ValidateImage(data, s.avatarMaxBytes)
	if err != nil {
		return Profile{}, apperr.Validation(opUploadAvatar, "invalid_image",
			storage.ImageValidationMessage(err, s.avatarMaxBytes))
	}

	if _, err := s.fetch(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, apperr.NotFound(opUploadAvatar, "profile_not_found")
		}
		s.logError(opUploadAvatar, "profile_select_failed", err, zap.String("user_id", id))
		return Profile{}, apperr.Store(opUploadAvatar, "profile_select_failed", err)
	}

	objectPath := avatarObjectPath(id)
	if err := s.blobs.Upload(ctx, storage.BucketAvatars, objectPath, data, true); err != nil {
		s.logError(opUploadAvatar, "upload_failed", err, zap.String("user_id", id))
		return Profile{}, apperr.Store(opUploadAvatar, "upload_failed", err)
	}

	// The object path is reused across uploads, so the URL carries a version.
	avatarURL := s.blobs.PublicURL(storage.BucketAvatars, objectPath) +
		"?v=" + strconv.FormatInt(s.now().UTC().Unix(), 10)
	if err := s.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"avatar_url": avatarURL,
			"updated_at": s.now().UTC(),
		}).Error; err != nil {
		s.logError(opUploadAvatar, "profile_update_failed", err, zap.String("user_id", id))
		return Profile{}, apperr.Store(opUploadAvatar, "profile_update_failed", err)
	}

	profile, err := s.fetch(ctx, id)
	if err != nil {
		s.logError(opUploadAvatar, "profile_refetch_failed", err, zap.String("user_id", id))
		return Profile{}, apperr.Store(opUploadAvatar, "profile_refetch_failed", err)
	}
	s.logger.Info("avatar updated", zap.String("user_id", id), zap.Int64("bytes", image.Size))
	return profile, nil
}

// avatarObjectPath is the single key each user's avatar lives under, so a
// new upload replaces the old one whatever its format.
func avatarObjectPath(id string) string {
	return id + "/avatar"
}

func (s *Service) fetch(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	return profile, err
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
	s.logger.Error("profiles service error", attrs...)
}

package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrSessionNotFound is returned by SessionStore.Lookup for unknown sessions.
var ErrSessionNotFound = errors.New("auth: session not found")

// SessionStore persists sessions so they can be revoked server-side.
type SessionStore interface {
	Create(ctx context.Context, session Session) error
	Lookup(ctx context.Context, sessionID string) (Session, error)
	Revoke(ctx context.Context, sessionID string) error
}

// GormSessionStore keeps sessions in the auth_sessions table.
type GormSessionStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormSessionStore constructs a database-backed SessionStore.
func NewGormSessionStore(db *gorm.DB, clock func() time.Time) *GormSessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &GormSessionStore{db: db, clock: clock}
}

func (s *GormSessionStore) Create(ctx context.Context, session Session) error {
	return s.db.WithContext(ctx).Create(&session).Error
}

func (s *GormSessionStore) Lookup(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *GormSessionStore) Revoke(ctx context.Context, sessionID string) error {
	revokedAt := s.clock().UTC()
	return s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", revokedAt).Error
}

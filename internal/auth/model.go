package auth

import "time"

// Identity is the read-only account handle exposed to the rest of the system.
type Identity struct {
	ID    string
	Email string
}

// Account stores credentials for one identity.
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_auth_accounts_email"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "auth_accounts"
}

// Session records one signed-in browser session.
type Session struct {
	ID        string     `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	AccountID string     `gorm:"column:account_id;size:64;not null;index" json:"account_id"`
	CreatedAt time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	RevokedAt *time.Time `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "auth_sessions"
}

// ActiveAt reports whether the session is usable at the given instant.
func (s Session) ActiveAt(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionToken is the credential handed to a client after sign-in.
type SessionToken struct {
	Value     string
	ExpiresAt time.Time
}

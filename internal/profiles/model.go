package profiles

import (
	"strings"
	"time"
)

const (
	// MinGradYear and MaxGradYear bound plausible graduation years.
	MinGradYear = 2000
	MaxGradYear = 2100

	fallbackDisplayName = "Student"
)

// Profile is the public record of one identity, keyed by the identity id.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	Email     string    `gorm:"column:email;size:320;not null"`
	FullName  *string   `gorm:"column:full_name;size:200"`
	Major     *string   `gorm:"column:major;size:200"`
	GradYear  *int      `gorm:"column:grad_year"`
	Bio       *string   `gorm:"column:bio;type:text"`
	AvatarURL *string   `gorm:"column:avatar_url;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// DisplayName returns the full name, or "Student" when none is set.
func (p Profile) DisplayName() string {
	return DisplayName(p.FullName)
}

// DisplayName renders a nullable full name for display.
func DisplayName(fullName *string) string {
	if fullName == nil || strings.TrimSpace(*fullName) == "" {
		return fallbackDisplayName
	}
	return *fullName
}

// ProfileUpdate is an explicit save of the editable profile fields. Every
// field is written; nil clears it.
type ProfileUpdate struct {
	FullName *string
	Major    *string
	GradYear *int
	Bio      *string
}

// normalizeText trims value and maps blank text to nil.
func normalizeText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

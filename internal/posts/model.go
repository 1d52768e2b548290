package posts

import (
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
)

// Post is one immutable entry of the global feed.
type Post struct {
	ID        string           `gorm:"column:id;primaryKey;size:64;not null"`
	UserID    string           `gorm:"column:user_id;size:64;not null;index:idx_posts_user_created,priority:1"`
	Content   *string          `gorm:"column:content;type:text;check:chk_posts_body,(content IS NOT NULL AND content <> '') OR (image_url IS NOT NULL AND image_url <> '')"`
	ImageURL  *string          `gorm:"column:image_url;size:512"`
	CreatedAt time.Time        `gorm:"column:created_at;not null;index:idx_posts_created_at;index:idx_posts_user_created,priority:2"`
	Author    profiles.Profile `gorm:"foreignKey:UserID;references:ID"`
}

// TableName exposes the table backing posts.
func (Post) TableName() string {
	return "posts"
}

// Author is the slice of a profile rendered next to a post.
type Author struct {
	ID        string
	FullName  *string
	AvatarURL *string
}

// DisplayName returns the author's name, or "Student" when none is set.
func (a Author) DisplayName() string {
	return profiles.DisplayName(a.FullName)
}

// FeedItem joins a post with its author.
type FeedItem struct {
	Post   Post
	Author Author
}

func feedItemFromPost(post Post) FeedItem {
	author := Author{ID: post.UserID}
	if post.Author.ID != "" {
		author.FullName = post.Author.FullName
		author.AvatarURL = post.Author.AvatarURL
	}
	post.Author = profiles.Profile{}
	return FeedItem{Post: post, Author: author}
}

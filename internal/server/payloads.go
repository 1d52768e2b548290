package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
)

type profilePayload struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	FullName    *string `json:"full_name"`
	Major       *string `json:"major"`
	GradYear    *int    `json:"grad_year"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

type authorPayload struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	FullName    *string `json:"full_name"`
	AvatarURL   *string `json:"avatar_url"`
}

type postPayload struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Content    *string        `json:"content"`
	ImageURL   *string        `json:"image_url"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedAgo string         `json:"created_ago"`
	Author     *authorPayload `json:"author,omitempty"`
}

type feedResponsePayload struct {
	Posts []postPayload `json:"posts"`
}

type createPostResponsePayload struct {
	Post  postPayload   `json:"post"`
	Posts []postPayload `json:"posts"`
}

type userPageResponsePayload struct {
	Profile profilePayload `json:"profile"`
	Posts   []postPayload  `json:"posts"`
}

func newProfilePayload(profile profiles.Profile) profilePayload {
	return profilePayload{
		ID:          profile.ID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName(),
		FullName:    profile.FullName,
		Major:       profile.Major,
		GradYear:    profile.GradYear,
		Bio:         profile.Bio,
		AvatarURL:   profile.AvatarURL,
	}
}

func newPostPayload(post posts.Post, now time.Time) postPayload {
	return postPayload{
		ID:         post.ID,
		UserID:     post.UserID,
		Content:    post.Content,
		ImageURL:   post.ImageURL,
		CreatedAt:  post.CreatedAt.UTC(),
		CreatedAgo: posts.TimeAgo(post.CreatedAt, now),
	}
}

func newFeedPayloads(items []posts.FeedItem, now time.Time) []postPayload {
	payloads := make([]postPayload, 0, len(items))
	for _, item := range items {
		payload := newPostPayload(item.Post, now)
		payload.Author = &authorPayload{
			ID:          item.Author.ID,
			DisplayName: item.Author.DisplayName(),
			FullName:    item.Author.FullName,
			AvatarURL:   item.Author.AvatarURL,
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/posts"
	"github.com/gin-gonic/gin"
)

const (
	opHTTPCreatePost = "posts.create"
	opHTTPDeletePost = "posts.delete"
)

func (h *httpHandler) handleListFeed(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number.", "code": "invalid_request"})
			return
		}
		limit = parsed
	}

	items, err := h.posts.List(c.Request.Context(), limit)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, feedResponsePayload{Posts: newFeedPayloads(items, h.now())})
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in.", "code": "NOT_AUTHENTICATED"})
		return
	}
	ctx := c.Request.Context()

	image, closeImage, err := optionalFormFile(c, "image")
	if err != nil {
		h.abortWithError(c, apperr.Validation(opHTTPCreatePost, "image_unreadable", "Image could not be read."))
		return
	}
	defer closeImage()

	content := c.PostForm("content")
	if _, err := posts.ValidateContent(content, image != nil, h.posts.MaxContentChars()); err != nil {
		h.abortWithError(c, err)
		return
	}
	if _, err := h.profiles.GetOrCreate(ctx, identity); err != nil {
		h.abortWithError(c, err)
		return
	}

	post, err := h.posts.Create(ctx, identity.ID, posts.CreateRequest{
		Content: content,
		Image:   image,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	items, err := h.posts.List(ctx, 0)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	now := h.now()
	c.JSON(http.StatusCreated, createPostResponsePayload{
		Post:  newPostPayload(post, now),
		Posts: newFeedPayloads(items, now),
	})
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in.", "code": "NOT_AUTHENTICATED"})
		return
	}
	if c.Query("confirm") != "true" {
		h.abortWithError(c, apperr.Validation(opHTTPDeletePost, "confirmation_required", "Delete this post?"))
		return
	}
	if err := h.posts.Delete(c.Request.Context(), identity.ID, c.Param("id")); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// optionalFormFile opens the named multipart file. A missing file yields a
// nil reader.
func optionalFormFile(c *gin.Context, field string) (io.Reader, func(), error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}
	file, err := header.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return file, closeFile(file), nil
}

func closeFile(file multipart.File) func() {
	return func() {
		_ = file.Close()
	}
}

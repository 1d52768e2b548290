package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
	"github.com/gin-gonic/gin"
)

const opHTTPUploadAvatar = "profiles.upload_avatar"

type profileUpdatePayload struct {
	FullName *string `json:"full_name"`
	Major    *string `json:"major"`
	GradYear *int    `json:"grad_year" binding:"omitempty,gte=2000,lte=2100"`
	Bio      *string `json:"bio"`
}

func (h *httpHandler) handleDashboard(c *gin.Context) {
	h.respondWithOwnProfile(c)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	h.respondWithOwnProfile(c)
}

func (h *httpHandler) respondWithOwnProfile(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in.", "code": "NOT_AUTHENTICATED"})
		return
	}
	profile, err := h.profiles.GetOrCreate(c.Request.Context(), identity)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfilePayload(profile))
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in.", "code": "NOT_AUTHENTICATED"})
		return
	}
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Check the profile fields and try again.",
			"code":  "profiles.update.invalid_request",
		})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.profiles.GetOrCreate(ctx, identity); err != nil {
		h.abortWithError(c, err)
		return
	}
	profile, err := h.profiles.Update(ctx, identity.ID, profiles.ProfileUpdate{
		FullName: request.FullName,
		Major:    request.Major,
		GradYear: request.GradYear,
		Bio:      request.Bio,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": newProfilePayload(profile), "message": "Saved"})
}

func (h *httpHandler) handleUploadAvatar(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in.", "code": "NOT_AUTHENTICATED"})
		return
	}
	avatar, closeAvatar, err := optionalFormFile(c, "avatar")
	if err != nil {
		h.abortWithError(c, apperr.Validation(opHTTPUploadAvatar, "image_unreadable", "Image could not be read."))
		return
	}
	defer closeAvatar()
	if avatar == nil {
		h.abortWithError(c, apperr.Validation(opHTTPUploadAvatar, "missing_image", "Please choose an image file."))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.profiles.GetOrCreate(ctx, identity); err != nil {
		h.abortWithError(c, err)
		return
	}
	profile, err := h.profiles.UploadAvatar(ctx, identity.ID, avatar)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": newProfilePayload(profile), "message": "Avatar updated"})
}

func (h *httpHandler) handleUserPage(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	profile, err := h.profiles.Get(ctx, userID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	authored, err := h.posts.ListByAuthor(ctx, userID, 0)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	now := h.now()
	payloads := make([]postPayload, 0, len(authored))
	for _, post := range authored {
		payloads = append(payloads, newPostPayload(post, now))
	}
	c.JSON(http.StatusOK, userPageResponsePayload{
		Profile: newProfilePayload(profile),
		Posts:   payloads,
	})
}

package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opHTTPSignUp = "auth.sign_up"
	opHTTPSignIn = "auth.sign_in"
)

type credentialsPayload struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signUpResponsePayload struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type signInResponsePayload struct {
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required.", "code": "invalid_request"})
		return
	}
	if !h.policy.IsAllowed(request.Email) {
		h.abortWithError(c, apperr.New(apperr.KindEmailNotAllowed, opHTTPSignUp, "email_not_allowed", nil).
			WithMessage("Coyote Connection is restricted to C of I emails ("+h.policy.Domain()+")."))
		return
	}

	identity, err := h.provider.SignUp(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, signUpResponsePayload{
		ID:      identity.ID,
		Email:   identity.Email,
		Message: "Account created! Now sign in.",
	})
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required.", "code": "invalid_request"})
		return
	}
	if !h.policy.IsAllowed(request.Email) {
		h.abortWithError(c, apperr.New(apperr.KindEmailNotAllowed, opHTTPSignIn, "email_not_allowed", nil).
			WithMessage("You must sign in with a C of I email ("+h.policy.Domain()+")."))
		return
	}

	token, err := h.provider.SignInWithPassword(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotAuthenticated) {
			h.logger.Error("sign in failed", zap.Error(err))
		}
		h.abortWithError(c, err)
		return
	}
	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, signInResponsePayload{
		Email:     emailpolicy.Normalize(request.Email),
		ExpiresAt: token.ExpiresAt.Unix(),
	})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if err := h.provider.SignOut(c.Request.Context(), h.sessionToken(c)); err != nil {
		h.logger.Error("sign out failed", zap.Error(err))
		h.abortWithError(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

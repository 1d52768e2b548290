package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/gate"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// requireSession runs the session gate on every protected request. Denied
// requests lose their session cookie and are sent back to sign-in: browsers
// get a redirect, API clients a 401 naming the redirect target.
func (h *httpHandler) requireSession(c *gin.Context) {
	identity, err := h.gate.ResolveSession(c.Request.Context(), h.sessionToken(c))
	if err != nil {
		reason, denied := gate.DeniedReason(err)
		if !denied {
			h.logger.Error("session gate failed", zap.Error(err))
			h.abortWithError(c, err)
			return
		}
		h.clearSessionCookie(c)
		h.logger.Debug("session denied", zap.String("reason", string(reason)), zap.String("path", c.Request.URL.Path))
		h.redirectToSignIn(c, reason)
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) redirectToSignIn(c *gin.Context, reason gate.Reason) {
	if strings.Contains(c.GetHeader("Accept"), gin.MIMEHTML) {
		target := signInPath + "?" + url.Values{"reason": {string(reason)}}.Encode()
		c.Redirect(http.StatusSeeOther, target)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    h.denialMessage(reason),
		"code":     string(reason),
		"redirect": signInPath,
	})
}

func (h *httpHandler) denialMessage(reason gate.Reason) string {
	if reason == gate.ReasonEmailNotAllowed {
		return "You must sign in with a C of I email (" + h.policy.Domain() + ")."
	}
	return "Please sign in."
}

// sessionToken reads the session cookie, falling back to a bearer token.
func (h *httpHandler) sessionToken(c *gin.Context) string {
	return h.provider.TokenFromRequest(c.Request)
}

func (h *httpHandler) setSessionCookie(c *gin.Context, token auth.SessionToken) {
	maxAge := int(token.ExpiresAt.Sub(h.now()) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.provider.CookieName(), token.Value, maxAge, "/", "", c.Request.TLS != nil, true)
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.provider.CookieName(), "", -1, "/", "", c.Request.TLS != nil, true)
}

// abortWithError maps an error kind to its status and writes
// {"error": message, "code": code}.
func (h *httpHandler) abortWithError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code := apperr.CodeOf(err)
	message := "Something went wrong. Please try again."
	if kind != apperr.KindStore {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			message = appErr.Message()
		}
	}
	c.AbortWithStatusJSON(statusForKind(kind), gin.H{"error": message, "code": code})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotAuthenticated, apperr.KindEmailNotAllowed:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

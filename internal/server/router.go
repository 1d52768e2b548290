package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityContextKey  = "coyote_identity"
	signInPath          = "/sign-in"
	maxMultipartMemory  = 8 << 20
	defaultAllowOrigin  = "http://localhost:3000"
	corsPreflightMaxAge = 12 * time.Hour
)

var (
	errMissingProvider = errors.New("identity provider dependency required")
	errMissingGate     = errors.New("session gate dependency required")
	errMissingProfiles = errors.New("profile service dependency required")
	errMissingPosts    = errors.New("post service dependency required")
	errMissingBlobs    = errors.New("blob reader dependency required")
)

// IdentityProvider is the account surface the HTTP layer drives.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (auth.Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) (auth.SessionToken, error)
	SignOut(ctx context.Context, token string) error
	TokenFromRequest(r *http.Request) string
	CookieName() string
}

// SessionGate admits protected requests.
type SessionGate interface {
	ResolveSession(ctx context.Context, token string) (auth.Identity, error)
}

// BlobReader serves stored objects.
type BlobReader interface {
	Open(bucket, objectPath string) (io.ReadSeekCloser, int64, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Provider       IdentityProvider
	Gate           SessionGate
	EmailPolicy    emailpolicy.Policy
	Profiles       *profiles.Service
	Posts          *posts.Service
	Blobs          BlobReader
	AllowedOrigins []string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Provider == nil {
		return nil, errMissingProvider
	}
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Posts == nil {
		return nil, errMissingPosts
	}
	if deps.Blobs == nil {
		return nil, errMissingBlobs
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		provider: deps.Provider,
		gate:     deps.Gate,
		policy:   deps.EmailPolicy,
		profiles: deps.Profiles,
		posts:    deps.Posts,
		blobs:    deps.Blobs,
		now:      clock,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/sign-up", handler.handleSignUp)
	router.POST("/auth/sign-in", handler.handleSignIn)
	router.POST("/auth/sign-out", handler.handleSignOut)
	router.GET("/storage/:bucket/*path", handler.handleBlob)

	protected := router.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/dashboard", handler.handleDashboard)
	protected.GET("/feed", handler.handleListFeed)
	protected.POST("/feed/posts", handler.handleCreatePost)
	protected.DELETE("/feed/posts/:id", handler.handleDeletePost)
	protected.GET("/profile", handler.handleGetProfile)
	protected.PUT("/profile", handler.handleUpdateProfile)
	protected.POST("/profile/avatar", handler.handleUploadAvatar)
	protected.GET("/users/:id", handler.handleUserPage)

	return router, nil
}

type httpHandler struct {
	provider IdentityProvider
	gate     SessionGate
	policy   emailpolicy.Policy
	profiles *profiles.Service
	posts    *posts.Service
	blobs    BlobReader
	now      func() time.Time
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{defaultAllowOrigin}
	}
	return cors.New(cors.Config{
		AllowOrigins:     allowed,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           corsPreflightMaxAge,
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok && identity.ID != ""
}

package integration_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/gate"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/server"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "coyote_session"
	studentEmail         = "a@yotes.collegeofidaho.edu"
	outsiderEmail        = "a@gmail.com"
	studentPassword      = "correct horse battery"
)

// startStack serves the full API over db and returns the test server.
func startStack(testContext *testing.T, db *gorm.DB) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}
	provider, err := auth.NewProvider(auth.ProviderConfig{
		Database:   db,
		Sessions:   auth.NewGormSessionStore(db, nil),
		Tokens:     tokens,
		Validator:  sessionValidator,
		Hasher:     auth.NewPasswordHasher(bcrypt.MinCost),
		IDProvider: ids.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct provider: %v", err)
	}

	policy := emailpolicy.New(emailpolicy.DefaultDomain)
	sessionGate, err := gate.New(provider, policy, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to construct gate: %v", err)
	}

	blobs, err := storage.NewBlobStore(storage.Config{
		Filesystem:    afero.NewMemMapFs(),
		PublicBaseURL: "http://coyote.test",
	})
	if err != nil {
		testContext.Fatalf("failed to construct blob store: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Blobs: blobs})
	if err != nil {
		testContext.Fatalf("failed to build profile service: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		Blobs:      blobs,
		IDProvider: ids.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to build post service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Provider:    provider,
		Gate:        sessionGate,
		EmailPolicy: policy,
		Profiles:    profileService,
		Posts:       postService,
		Blobs:       blobs,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

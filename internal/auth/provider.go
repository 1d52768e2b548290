package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opProviderNew    = "auth.provider.new"
	opSignUp         = "auth.sign_up"
	opSignIn         = "auth.sign_in"
	opSignOut        = "auth.sign_out"
	opCurrentSession = "auth.current_identity"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingSessions  = errors.New("session store is required")
	errMissingTokens    = errors.New("token issuer is required")
	errMissingValidator = errors.New("session validator is required")
)

// ProviderConfig describes the dependencies of the identity provider.
type ProviderConfig struct {
	Database   *gorm.DB
	Sessions   SessionStore
	Tokens     *TokenIssuer
	Validator  *SessionValidator
	Hasher     PasswordHasher
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Provider is the password-based identity provider: it owns accounts and
// sessions and answers "who is signed in" for a session token.
type Provider struct {
	db         *gorm.DB
	sessions   SessionStore
	tokens     *TokenIssuer
	validator  *SessionValidator
	hasher     PasswordHasher
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewProvider validates the configuration and constructs a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Database == nil {
		return nil, apperr.Store(opProviderNew, "missing_database", errMissingDatabase)
	}
	if cfg.Sessions == nil {
		return nil, apperr.Store(opProviderNew, "missing_session_store", errMissingSessions)
	}
	if cfg.Tokens == nil {
		return nil, apperr.Store(opProviderNew, "missing_token_issuer", errMissingTokens)
	}
	if cfg.Validator == nil {
		return nil, apperr.Store(opProviderNew, "missing_session_validator", errMissingValidator)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		db:         cfg.Database,
		sessions:   cfg.Sessions,
		tokens:     cfg.Tokens,
		validator:  cfg.Validator,
		hasher:     cfg.Hasher,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// SignUp registers a new account for email.
func (p *Provider) SignUp(ctx context.Context, email, password string) (Identity, error) {
	normalizedEmail := emailpolicy.Normalize(email)
	if normalizedEmail == "" || !strings.Contains(normalizedEmail, "@") {
		return Identity{}, apperr.Validation(opSignUp, "invalid_email", "Enter a valid email address.")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return Identity{}, apperr.Validation(opSignUp, "weak_password",
			fmt.Sprintf("Password should be at least %d characters.", MinPasswordLength))
	}

	var existing Account
	err := p.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&existing).Error
	if err == nil {
		return Identity{}, emailTaken()
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		p.logError(opSignUp, "account_lookup_failed", err)
		return Identity{}, apperr.Store(opSignUp, "account_lookup_failed", err)
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, errPasswordTooLong) {
			return Identity{}, apperr.Validation(opSignUp, "password_too_long", "Password is too long.")
		}
		p.logError(opSignUp, "password_hash_failed", err)
		return Identity{}, apperr.Store(opSignUp, "password_hash_failed", err)
	}

	accountID, err := p.idProvider.NewID()
	if err != nil {
		p.logError(opSignUp, "id_generation_failed", err)
		return Identity{}, apperr.Store(opSignUp, "id_generation_failed", err)
	}

	account := Account{
		ID:           accountID,
		Email:        normalizedEmail,
		PasswordHash: hash,
	}
	if err := p.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Identity{}, emailTaken()
		}
		p.logError(opSignUp, "account_insert_failed", err)
		return Identity{}, apperr.Store(opSignUp, "account_insert_failed", err)
	}

	p.logger.Info("account created", zap.String("account_id", account.ID))
	return Identity{ID: account.ID, Email: account.Email}, nil
}

// SignInWithPassword verifies credentials and opens a new session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (SessionToken, error) {
	normalizedEmail := emailpolicy.Normalize(email)

	var account Account
	err := p.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionToken{}, invalidCredentials()
	}
	if err != nil {
		p.logError(opSignIn, "account_lookup_failed", err)
		return SessionToken{}, apperr.Store(opSignIn, "account_lookup_failed", err)
	}
	if !p.hasher.Verify(account.PasswordHash, password) {
		return SessionToken{}, invalidCredentials()
	}

	sessionID, err := p.idProvider.NewID()
	if err != nil {
		p.logError(opSignIn, "id_generation_failed", err)
		return SessionToken{}, apperr.Store(opSignIn, "id_generation_failed", err)
	}

	token, expiresAt, err := p.tokens.IssueSessionToken(SessionSubject{
		AccountID: account.ID,
		SessionID: sessionID,
		Email:     account.Email,
	})
	if err != nil {
		p.logError(opSignIn, "token_issue_failed", err)
		return SessionToken{}, apperr.Store(opSignIn, "token_issue_failed", err)
	}

	session := Session{
		ID:        sessionID,
		AccountID: account.ID,
		CreatedAt: p.clock().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := p.sessions.Create(ctx, session); err != nil {
		p.logError(opSignIn, "session_create_failed", err, zap.String("account_id", account.ID))
		return SessionToken{}, apperr.Store(opSignIn, "session_create_failed", err)
	}

	p.logger.Info("session opened",
		zap.String("account_id", account.ID),
		zap.String("session_id", sessionID))
	return SessionToken{Value: token, ExpiresAt: expiresAt}, nil
}

// CurrentIdentity resolves the identity behind token. ok is false, with a nil
// error, whenever there is no valid session: missing, malformed, expired,
// revoked or orphaned.
func (p *Provider) CurrentIdentity(ctx context.Context, token string) (Identity, bool, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, false, nil
	}
	claims, err := p.validator.ValidateToken(token)
	if err != nil {
		p.logger.Debug("session token rejected", zap.Error(err))
		return Identity{}, false, nil
	}

	session, err := p.sessions.Lookup(ctx, claims.SessionID())
	if errors.Is(err, ErrSessionNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		p.logError(opCurrentSession, "session_lookup_failed", err)
		return Identity{}, false, apperr.Store(opCurrentSession, "session_lookup_failed", err)
	}
	if !session.ActiveAt(p.clock()) || session.AccountID != claims.Subject {
		return Identity{}, false, nil
	}

	var account Account
	err = p.db.WithContext(ctx).Where("id = ?", session.AccountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		p.logError(opCurrentSession, "account_lookup_failed", err)
		return Identity{}, false, apperr.Store(opCurrentSession, "account_lookup_failed", err)
	}

	return Identity{ID: account.ID, Email: account.Email}, true, nil
}

// SignOut revokes the session behind token. Tokens that no longer validate
// are ignored.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	claims, err := p.validator.ValidateToken(token)
	if err != nil {
		return nil
	}
	if err := p.sessions.Revoke(ctx, claims.SessionID()); err != nil {
		p.logError(opSignOut, "session_revoke_failed", err, zap.String("session_id", claims.SessionID()))
		return apperr.Store(opSignOut, "session_revoke_failed", err)
	}
	p.logger.Info("session closed", zap.String("session_id", claims.SessionID()))
	return nil
}

// CookieName returns the cookie the session token travels in.
func (p *Provider) CookieName() string {
	return p.validator.CookieName()
}

// TokenFromRequest returns the session token carried by r.
func (p *Provider) TokenFromRequest(r *http.Request) string {
	return p.validator.TokenFromRequest(r)
}

// TokenTTL returns the lifetime of issued session tokens.
func (p *Provider) TokenTTL() time.Duration {
	return p.tokens.TTL()
}

func emailTaken() error {
	return apperr.Validation(opSignUp, "email_taken", "An account with this email already exists.")
}

func invalidCredentials() error {
	return apperr.New(apperr.KindNotAuthenticated, opSignIn, "invalid_credentials", nil).
		WithMessage("Invalid login credentials")
}

func (p *Provider) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	p.logger.Error("identity provider error", attrs...)
}

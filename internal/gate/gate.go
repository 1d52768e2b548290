// Package gate admits requests to protected pages: a signed-in identity whose
// email satisfies the email policy. Every protected request runs the gate
// afresh; nothing is cached between requests.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"go.uber.org/zap"
)

const opResolveSession = "gate.resolve_session"

// Reason explains why a session was denied.
type Reason string

const (
	ReasonNotAuthenticated Reason = Reason(apperr.KindNotAuthenticated)
	ReasonEmailNotAllowed  Reason = Reason(apperr.KindEmailNotAllowed)
)

var errMissingProvider = errors.New("gate: identity provider required")

// Denied is returned when the request must be sent back to sign-in.
type Denied struct {
	Reason Reason
}

func (d *Denied) Error() string {
	return fmt.Sprintf("session denied: %s", d.Reason)
}

// IdentityProvider is the subset of the identity provider the gate needs.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context, token string) (auth.Identity, bool, error)
	SignOut(ctx context.Context, token string) error
}

// Gate resolves session tokens into admitted identities.
type Gate struct {
	provider IdentityProvider
	policy   emailpolicy.Policy
	logger   *zap.Logger
}

// New constructs a Gate.
func New(provider IdentityProvider, policy emailpolicy.Policy, logger *zap.Logger) (*Gate, error) {
	if provider == nil {
		return nil, errMissingProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{provider: provider, policy: policy, logger: logger}, nil
}

// ResolveSession returns the identity behind token, or a *Denied error. An
// identity whose email fails the policy has its session terminated before
// the denial is returned. Provider failures surface as STORE_ERROR.
func (g *Gate) ResolveSession(ctx context.Context, token string) (auth.Identity, error) {
	identity, ok, err := g.provider.CurrentIdentity(ctx, token)
	if err != nil {
		g.logger.Error("session lookup failed", zap.String("operation", opResolveSession), zap.Error(err))
		return auth.Identity{}, apperr.Store(opResolveSession, "identity_lookup_failed", err)
	}
	if !ok {
		return auth.Identity{}, &Denied{Reason: ReasonNotAuthenticated}
	}

	if !g.policy.IsAllowed(identity.Email) {
		if err := g.provider.SignOut(ctx, token); err != nil {
			g.logger.Error("sign out of disallowed email failed",
				zap.String("operation", opResolveSession),
				zap.String("account_id", identity.ID),
				zap.Error(err))
			return auth.Identity{}, apperr.Store(opResolveSession, "sign_out_failed", err)
		}
		g.logger.Info("session denied for disallowed email", zap.String("account_id", identity.ID))
		return auth.Identity{}, &Denied{Reason: ReasonEmailNotAllowed}
	}

	return identity, nil
}

// DeniedReason extracts the denial reason from err.
func DeniedReason(err error) (Reason, bool) {
	var denied *Denied
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return "", false
}

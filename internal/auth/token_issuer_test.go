package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      30 * time.Minute,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresAt, err := issuer.IssueSessionToken(SessionSubject{
		AccountID: "account-123",
		SessionID: "session-9",
		Email:     "a@yotes.collegeofidaho.edu",
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	parser := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return clockNow }))
	claims := &SessionClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "account-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.SessionID() != "session-9" {
		t.Fatalf("unexpected session id %s", claims.SessionID())
	}
	if claims.Issuer != DefaultSessionIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if claims.UserEmail != "a@yotes.collegeofidaho.edu" {
		t.Fatalf("unexpected email %s", claims.UserEmail)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: nil,
		TokenTTL:      30 * time.Minute,
	})
	if err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
}

func TestTokenIssuerRejectsNegativeTTL(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		TokenTTL:      -time.Minute,
	})
	if err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}

func TestTokenIssuerRequiresSubjectAndSession(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if issuer.TTL() != defaultTokenTTL {
		t.Fatalf("expected default ttl, got %s", issuer.TTL())
	}
	if _, _, err := issuer.IssueSessionToken(SessionSubject{SessionID: "s"}); err == nil {
		t.Fatalf("expected error for missing account id")
	}
	if _, _, err := issuer.IssueSessionToken(SessionSubject{AccountID: "a"}); err == nil {
		t.Fatalf("expected error for missing session id")
	}
}

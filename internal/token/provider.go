// Package token implements the JWT security provider: an RS256 signing key
// pair with persistent lifecycle, token issuance with unique jti claims,
// verification with revocation lookup, revocation, and refresh.
//
// Per-token metadata and revocation markers live in the shared store, so a
// revocation issued on one gateway instance is visible to all of them.
package token

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/store"
)

const (
	metadataKeyPrefix = "token:meta:"
	revokedKeyPrefix  = "token:revoked:"
)

// Config contains the provider settings.
type Config struct {
	Issuer   string
	Audience string
	KeyDir   string
	TTL      time.Duration
}

// Identity is the subject information carried across issuance and refresh.
type Identity struct {
	UserID string
	Email  string
	Roles  []string
}

// Claims is the gateway's JWT claim set.
type Claims struct {
	UserID string   `json:"user_id,omitempty"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity extracts the subject identity from verified claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Roles: c.Roles}
}

// metadataRecord is the audit record stored per jti.
type metadataRecord struct {
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider issues, verifies, revokes, and refreshes gateway tokens. The
// signing key pair is loaded once per process and never rotated in place.
type Provider struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger

	// Clock is injectable for expiry tests. Defaults to time.Now.
	Clock func() time.Time

	mu         sync.Mutex
	privateKey *rsa.PrivateKey
}

// NewProvider creates a Provider. The key pair is loaded or generated
// lazily on first use. st may be nil, in which case every operation
// reports the store unavailable.
func NewProvider(st store.Store, cfg Config, logger *zap.Logger) *Provider {
	return &Provider{
		store:  st,
		cfg:    cfg,
		logger: logger,
		Clock:  time.Now,
	}
}

func (p *Provider) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// EnsureKeys loads the persisted key pair, generating and persisting a new
// one when none exists. Once a pair is present it is never regenerated.
func (p *Provider) EnsureKeys() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.privateKey != nil {
		return p.privateKey, &p.privateKey.PublicKey, nil
	}

	key, err := loadKeyPair(p.cfg.KeyDir)
	if err != nil {
		if p.logger != nil {
			p.logger.Info("no signing key pair found, generating",
				zap.String("key_dir", p.cfg.KeyDir))
		}
		key, err = generateKeyPair(p.cfg.KeyDir)
		if err != nil {
			return nil, nil, err
		}
	}

	p.privateKey = key
	return p.privateKey, &p.privateKey.PublicKey, nil
}

// Generate signs a token for the given identity with a fresh jti, and
// records jti-scoped metadata in the shared store for audit and lookup.
func (p *Provider) Generate(ctx context.Context, identity Identity) (string, error) {
	if p.store == nil {
		return "", apperrors.NewStoreUnavailableError("token issuance requires the shared store")
	}

	key, _, err := p.EnsureKeys()
	if err != nil {
		return "", apperrors.WrapInternal(ctx, err, "signing key unavailable")
	}

	now := p.now()
	jti := uuid.New().String()
	expiresAt := now.Add(p.cfg.TTL)

	claims := Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Roles:  identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Audience:  jwt.ClaimStrings{p.cfg.Audience},
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", apperrors.WrapInternal(ctx, err, "token signing failed")
	}

	record, err := json.Marshal(metadataRecord{
		UserID:    identity.UserID,
		Email:     identity.Email,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", apperrors.WrapInternal(ctx, err, "token metadata encoding failed")
	}

	if err := p.store.Set(ctx, metadataKeyPrefix+jti, string(record), p.cfg.TTL); err != nil {
		return "", apperrors.WrapStoreUnavailable(ctx, err, "token metadata write failed")
	}

	return signed, nil
}

// Verify validates the token's signature and standard claims, then checks
// the revocation list. A structurally expired token fails with an expired
// error before revocation is consulted.
func (p *Provider) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if p.store == nil {
		return nil, apperrors.NewStoreUnavailableError("token verification requires the shared store")
	}

	claims, err := p.parse(tokenString, true)
	if err != nil {
		return nil, err
	}

	revoked, err := p.store.Exists(ctx, revokedKeyPrefix+claims.ID)
	if err != nil {
		return nil, apperrors.WrapStoreUnavailable(ctx, err, "revocation lookup failed")
	}
	if revoked {
		return nil, apperrors.NewTokenRevokedError("token has been revoked")
	}

	return claims, nil
}

// Revoke marks the token's jti unusable for the remainder of its lifetime.
// The marker expires with the token, so nothing is retained past natural
// expiry. Revoking an already expired token is a no-op.
func (p *Provider) Revoke(ctx context.Context, tokenString string) error {
	if p.store == nil {
		return apperrors.NewStoreUnavailableError("token revocation requires the shared store")
	}

	// Signature must still be valid; expiry is checked manually so the
	// remaining lifetime can size the marker TTL.
	claims, err := p.parse(tokenString, false)
	if err != nil {
		return err
	}

	if claims.ExpiresAt == nil {
		return apperrors.NewTokenInvalidError("token has no expiry claim")
	}

	remaining := claims.ExpiresAt.Time.Sub(p.now())
	if remaining <= 0 {
		return nil
	}

	if err := p.store.Set(ctx, revokedKeyPrefix+claims.ID, "1", remaining); err != nil {
		return apperrors.WrapStoreUnavailable(ctx, err, "revocation write failed")
	}

	if p.logger != nil {
		p.logger.Info("token revoked",
			zap.String("jti", claims.ID),
			zap.Duration("remaining", remaining))
	}

	return nil
}

// Refresh verifies the presented token and issues a brand-new one
// preserving the identity claims with a fresh jti and expiry. Revoked
// tokens are never refreshable; expired tokens must re-authenticate.
func (p *Provider) Refresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := p.Verify(ctx, tokenString)
	if err != nil {
		return "", err
	}

	return p.Generate(ctx, claims.Identity())
}

// parse validates the token signature, issuer, and audience. When
// validateExpiry is false, expiry is left to the caller.
func (p *Provider) parse(tokenString string, validateExpiry bool) (*Claims, error) {
	_, publicKey, err := p.EnsureKeys()
	if err != nil {
		return nil, apperrors.NewInternalError("signing key unavailable")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithAudience(p.cfg.Audience),
		jwt.WithTimeFunc(p.now),
	}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return publicKey, nil
	}, opts...)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperrors.NewTokenExpiredError("token has expired")
	case err != nil:
		return nil, apperrors.NewTokenInvalidError("token signature or claims invalid")
	case !parsed.Valid:
		return nil, apperrors.NewTokenInvalidError("token is not valid")
	}

	// WithoutClaimsValidation skips issuer and audience along with expiry,
	// so re-check them here: a signature-valid token minted for another
	// audience must not drive revocation.
	if !validateExpiry {
		if claims.Issuer != p.cfg.Issuer || !hasAudience(claims.Audience, p.cfg.Audience) {
			return nil, apperrors.NewTokenInvalidError("token signature or claims invalid")
		}
	}

	if claims.ID == "" {
		return nil, apperrors.NewTokenInvalidError("token has no jti claim")
	}

	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

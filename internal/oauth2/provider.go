// Package oauth2 implements the authorization server: client registration,
// single-use authorization codes, the authorization-code and
// client-credentials grants, opaque access/refresh tokens, and a revocation
// blacklist. All state lives in the shared store so any gateway instance can
// serve any grant.
package oauth2

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/store"
)

const (
	clientKeyPrefix    = "oauth:client:"
	codeKeyPrefix      = "oauth:code:"
	tokenKeyPrefix     = "oauth:token:"
	refreshKeyPrefix   = "oauth:refresh:"
	blacklistKeyPrefix = "oauth:blacklist:"
)

// Config contains the authorization server settings.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration
}

// Client is a registered OAuth2 client. The record is immutable after
// registration.
type Client struct {
	ID           string    `json:"client_id"`
	Secret       string    `json:"client_secret"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisterClientRequest carries the caller-supplied registration fields.
type RegisterClientRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
}

// TokenPair is the grant response shape.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenClaims are the stored claims returned by ValidateToken.
type TokenClaims struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

type codeRecord struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope,omitempty"`
	UserID      string `json:"user_id"`
}

type tokenRecord struct {
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type refreshRecord struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// Provider is the OAuth2 authorization server.
type Provider struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger

	// Clock is injectable for expiry tests. Defaults to time.Now.
	Clock func() time.Time
}

// NewProvider creates a Provider. st may be nil, in which case every grant
// operation reports the store unavailable.
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

func (p *Provider) requireStore() error {
	if p.store == nil {
		return apperrors.NewStoreUnavailableError("authorization server requires the shared store")
	}
	return nil
}

// RegisterClient validates the registration request, generates a client id
// and secret, and persists the client record.
func (p *Provider) RegisterClient(ctx context.Context, req RegisterClientRequest) (*Client, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	if req.Name == "" {
		return nil, apperrors.NewInvalidInputError("client name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, apperrors.NewInvalidInputError("at least one redirect URI is required")
	}
	if len(req.Scopes) == 0 {
		return nil, apperrors.NewInvalidInputError("at least one allowed scope is required")
	}

	secret, err := randomCredential()
	if err != nil {
		return nil, apperrors.WrapInternal(ctx, err, "client secret generation failed")
	}

	client := &Client{
		ID:           uuid.New().String(),
		Secret:       secret,
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		CreatedAt:    p.now().UTC(),
	}

	if err := p.setJSON(ctx, clientKeyPrefix+client.ID, client, 0); err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.Info("oauth2 client registered",
			zap.String("client_id", client.ID),
			zap.String("name", client.Name))
	}

	return client, nil
}

// GenerateAuthorizationCode issues a short-lived single-use code bound to
// the client, redirect URI, scope, and user.
func (p *Provider) GenerateAuthorizationCode(ctx context.Context, clientID, redirectURI, scope, userID string) (string, error) {
	if err := p.requireStore(); err != nil {
		return "", err
	}

	client, err := p.getClient(ctx, clientID)
	if err != nil {
		return "", err
	}

	if !contains(client.RedirectURIs, redirectURI) {
		return "", apperrors.NewClientAuthFailedError("redirect URI is not registered for this client")
	}
	if !scopeSubset(scope, client.Scopes) {
		return "", apperrors.NewClientAuthFailedError("requested scope exceeds the client's allowed scopes")
	}

	code, err := randomCredential()
	if err != nil {
		return "", apperrors.WrapInternal(ctx, err, "authorization code generation failed")
	}

	record := codeRecord{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       scope,
		UserID:      userID,
	}
	if err := p.setJSON(ctx, codeKeyPrefix+code, record, p.cfg.CodeTTL); err != nil {
		return "", err
	}

	return code, nil
}

// ExchangeAuthorizationCode validates the code against the presented client
// credentials and redirect URI, consumes it, and issues a Bearer token pair.
// The code is deleted before tokens are issued, so a second exchange with
// the same code always fails.
func (p *Provider) ExchangeAuthorizationCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (*TokenPair, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	var record codeRecord
	if err := p.getJSON(ctx, codeKeyPrefix+code, &record); err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.NewAuthCodeInvalidError("authorization code is unknown, expired, or already used")
		}
		return nil, err
	}

	client, err := p.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if record.ClientID != client.ID {
		return nil, apperrors.NewAuthCodeInvalidError("authorization code was issued to a different client")
	}
	if record.RedirectURI != redirectURI {
		return nil, apperrors.NewAuthCodeInvalidError("redirect URI does not match the authorization request")
	}

	// Consume first. Even if token issuance fails the code is gone.
	if err := p.store.Delete(ctx, codeKeyPrefix+code); err != nil {
		return nil, apperrors.WrapStoreUnavailable(ctx, err, "authorization code consumption failed")
	}

	return p.issueTokens(ctx, client.ID, record.UserID, record.Scope, true)
}

// ClientCredentials authenticates the client and issues an access token
// scoped to the client itself, with no user identity and no refresh token.
func (p *Provider) ClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*TokenPair, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	client, err := p.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	if !scopeSubset(scope, client.Scopes) {
		return nil, apperrors.NewClientAuthFailedError("requested scope exceeds the client's allowed scopes")
	}

	return p.issueTokens(ctx, client.ID, "", scope, false)
}

// RefreshAccessToken rotates a refresh token: the presented one is consumed
// and a new Bearer pair is issued for the same client, user, and scope.
func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenPair, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	var record refreshRecord
	if err := p.getJSON(ctx, refreshKeyPrefix+refreshToken, &record); err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.NewTokenInvalidError("refresh token is unknown or expired")
		}
		return nil, err
	}

	client, err := p.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if record.ClientID != client.ID {
		return nil, apperrors.NewTokenInvalidError("refresh token was issued to a different client")
	}

	if err := p.store.Delete(ctx, refreshKeyPrefix+refreshToken); err != nil {
		return nil, apperrors.WrapStoreUnavailable(ctx, err, "refresh token consumption failed")
	}

	return p.issueTokens(ctx, record.ClientID, record.UserID, record.Scope, true)
}

// ValidateToken resolves an access token to its stored claims. Expiry is
// checked before the blacklist, so an expired token reports expired even
// when it was also revoked.
func (p *Provider) ValidateToken(ctx context.Context, accessToken string) (*TokenClaims, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	var record tokenRecord
	if err := p.getJSON(ctx, tokenKeyPrefix+accessToken, &record); err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.NewTokenInvalidError("access token is unknown or expired")
		}
		return nil, err
	}

	if !p.now().Before(record.ExpiresAt) {
		return nil, apperrors.NewTokenExpiredError("access token has expired")
	}

	blacklisted, err := p.store.Exists(ctx, blacklistKeyPrefix+accessToken)
	if err != nil {
		return nil, apperrors.WrapStoreUnavailable(ctx, err, "token blacklist lookup failed")
	}
	if blacklisted {
		return nil, apperrors.NewTokenRevokedError("access token has been revoked")
	}

	return &TokenClaims{ClientID: record.ClientID, UserID: record.UserID, Scope: record.Scope}, nil
}

// RevokeAccessToken blacklists an access token for the remainder of its
// lifetime. Revoking an already expired token is a no-op.
func (p *Provider) RevokeAccessToken(ctx context.Context, accessToken string) error {
	if err := p.requireStore(); err != nil {
		return err
	}

	var record tokenRecord
	if err := p.getJSON(ctx, tokenKeyPrefix+accessToken, &record); err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return apperrors.NewTokenInvalidError("access token is unknown or expired")
		}
		return err
	}

	remaining := record.ExpiresAt.Sub(p.now())
	if remaining <= 0 {
		return nil
	}

	if err := p.store.Set(ctx, blacklistKeyPrefix+accessToken, "1", remaining); err != nil {
		return apperrors.WrapStoreUnavailable(ctx, err, "token blacklist write failed")
	}

	if p.logger != nil {
		p.logger.Info("oauth2 access token revoked",
			zap.String("client_id", record.ClientID),
			zap.Duration("remaining", remaining))
	}

	return nil
}

// GetClient returns a registered client record.
func (p *Provider) GetClient(ctx context.Context, clientID string) (*Client, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}
	return p.getClient(ctx, clientID)
}

func (p *Provider) getClient(ctx context.Context, clientID string) (*Client, error) {
	var client Client
	if err := p.getJSON(ctx, clientKeyPrefix+clientID, &client); err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.NewClientAuthFailedError("unknown client")
		}
		return nil, err
	}
	return &client, nil
}

func (p *Provider) authenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := p.getClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		return nil, apperrors.NewClientAuthFailedError("client secret mismatch")
	}
	return client, nil
}

// issueTokens mints an opaque access token, persists its claims record, and
// optionally mints a rotating refresh token.
func (p *Provider) issueTokens(ctx context.Context, clientID, userID, scope string, withRefresh bool) (*TokenPair, error) {
	accessToken, err := randomCredential()
	if err != nil {
		return nil, apperrors.WrapInternal(ctx, err, "access token generation failed")
	}

	record := tokenRecord{
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: p.now().Add(p.cfg.AccessTokenTTL).UTC(),
	}
	if err := p.setJSON(ctx, tokenKeyPrefix+accessToken, record, p.cfg.AccessTokenTTL); err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}

	if withRefresh {
		refreshToken, err := randomCredential()
		if err != nil {
			return nil, apperrors.WrapInternal(ctx, err, "refresh token generation failed")
		}
		rr := refreshRecord{ClientID: clientID, UserID: userID, Scope: scope}
		if err := p.setJSON(ctx, refreshKeyPrefix+refreshToken, rr, p.cfg.RefreshTokenTTL); err != nil {
			return nil, err
		}
		pair.RefreshToken = refreshToken
	}

	return pair, nil
}

func (p *Provider) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.WrapInternal(ctx, err, "record encoding failed")
	}
	if err := p.store.Set(ctx, key, string(data), ttl); err != nil {
		return apperrors.WrapStoreUnavailable(ctx, err, "record write failed")
	}
	return nil
}

func (p *Provider) getJSON(ctx context.Context, key string, out any) error {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		if store.IsNotFound(err) {
			return apperrors.NewNotFoundError("record not found")
		}
		return apperrors.WrapStoreUnavailable(ctx, err, "record read failed")
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return apperrors.WrapInternal(ctx, fmt.Errorf("decode %s: %w", key, err), "record decoding failed")
	}
	return nil
}

// randomCredential returns a 256-bit hex-encoded random value, used for
// client secrets, authorization codes, and opaque tokens.
func randomCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// scopeSubset reports whether every space-separated scope in requested is
// in allowed. An empty request is always a subset.
func scopeSubset(requested string, allowed []string) bool {
	for _, s := range strings.Fields(requested) {
		if !contains(allowed, s) {
			return false
		}
	}
	return true
}

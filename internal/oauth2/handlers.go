package oauth2

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/meshgate/meshgate/internal/errors"
)

// Handler exposes the authorization server over HTTP.
type Handler struct {
	provider *Provider
}

// NewHandler creates the HTTP handler for a provider.
func NewHandler(provider *Provider) *Handler {
	return &Handler{provider: provider}
}

// Register mounts the OAuth2 endpoints on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/oauth/clients", h.RegisterClient)
	r.Post("/oauth/authorize", h.Authorize)
	r.Post("/oauth/token", h.Token)
	r.Post("/oauth/revoke", h.Revoke)
}

// RegisterClient handles POST /oauth/clients.
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("request body must be valid JSON"))
		return
	}

	client, err := h.provider.RegisterClient(r.Context(), req)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, client)
}

// Authorize handles POST /oauth/authorize: it issues a short-lived
// single-use authorization code for the given client, redirect URI, scope,
// and user.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("request body must be form encoded"))
		return
	}

	clientID := r.PostFormValue("client_id")
	redirectURI := r.PostFormValue("redirect_uri")
	userID := r.PostFormValue("user_id")
	if clientID == "" || redirectURI == "" || userID == "" {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("client_id, redirect_uri, and user_id are required"))
		return
	}

	code, err := h.provider.GenerateAuthorizationCode(r.Context(), clientID, redirectURI, r.PostFormValue("scope"), userID)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"code":       code,
		"expires_in": int64(h.provider.cfg.CodeTTL.Seconds()),
	})
}

// Token handles POST /oauth/token, dispatching on grant_type.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("request body must be form encoded"))
		return
	}

	clientID, clientSecret := clientCredentials(r)

	var (
		pair *TokenPair
		err  error
	)
	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		pair, err = h.provider.ExchangeAuthorizationCode(r.Context(),
			r.PostFormValue("code"), clientID, clientSecret, r.PostFormValue("redirect_uri"))
	case "client_credentials":
		pair, err = h.provider.ClientCredentials(r.Context(),
			clientID, clientSecret, r.PostFormValue("scope"))
	case "refresh_token":
		pair, err = h.provider.RefreshAccessToken(r.Context(),
			r.PostFormValue("refresh_token"), clientID, clientSecret)
	default:
		err = apperrors.NewInvalidInputError("unsupported grant_type: " + grantType)
	}
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

// Revoke handles POST /oauth/revoke. Unknown tokens report success, so
// callers cannot probe which tokens exist.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("request body must be form encoded"))
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("token is required"))
		return
	}

	err := h.provider.RevokeAccessToken(r.Context(), token)
	if err != nil && !apperrors.IsCode(err, apperrors.CodeTokenInvalid) {
		apperrors.RespondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// clientCredentials reads the client id and secret from HTTP basic auth,
// falling back to form fields.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/oauth"
	"github.com/skylog-io/skylog/internal/session"
	"github.com/skylog-io/skylog/internal/store"
	"github.com/skylog-io/skylog/internal/token"
)

const loginStateTTL = 10 * time.Minute

func callbackURL(cfg *config.Config, provider string) string {
	return cfg.PublicURL + "/api/auth/" + provider + "/callback"
}

// HandleAuthorize initiates the external login flow for one provider.
func HandleAuthorize(st store.Store, cfg *config.Config, providers map[string]*oauth.Client, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		client, ok := providers[name]
		if !ok {
			writeError(w, http.StatusNotFound, CodeNotFound, "Unknown identity provider")
			return
		}

		state, err := oauth.GenerateState()
		if err != nil {
			log.Error("failed to generate login state", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to initiate login")
			return
		}
		codeVerifier, err := oauth.GenerateCodeVerifier()
		if err != nil {
			log.Error("failed to generate code verifier", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to initiate login")
			return
		}

		redirectURL := callbackURL(cfg, name)
		now := time.Now().UTC()
		err = st.CreateLoginState(r.Context(), &models.LoginState{
			State:        state,
			Provider:     name,
			CodeVerifier: codeVerifier,
			RedirectURI:  redirectURL,
			CreatedAt:    now,
			ExpiresAt:    now.Add(loginStateTTL),
		})
		if err != nil {
			log.Error("failed to persist login state", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to initiate login")
			return
		}

		authURL := client.AuthorizationURL(state, oauth.GenerateCodeChallenge(codeVerifier), redirectURL)
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// HandleCallback finishes the external login: state check, code exchange,
// session bridge, then a redirect to the frontend with the token pair in
// the URL fragment so it stays out of access logs.
func HandleCallback(st store.Store, cfg *config.Config, providers map[string]*oauth.Client, bridge *session.Bridge, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		client, ok := providers[name]
		if !ok {
			writeError(w, http.StatusNotFound, CodeNotFound, "Unknown identity provider")
			return
		}

		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			writeError(w, http.StatusBadRequest, CodeAuthFailed, "Missing code or state")
			return
		}

		loginState, err := st.ConsumeLoginState(r.Context(), state, time.Now().UTC())
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, CodeAuthFailed, "Invalid or expired login state")
			return
		}
		if err != nil {
			log.Error("failed to consume login state", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
			return
		}
		if loginState.Provider != name {
			writeError(w, http.StatusUnauthorized, CodeAuthFailed, "Login state does not match provider")
			return
		}

		providerToken, err := client.ExchangeCode(r.Context(), code, loginState.CodeVerifier, loginState.RedirectURI)
		if err != nil {
			log.Warn("code exchange failed", zap.String("provider", name), zap.Error(err))
			writeError(w, http.StatusUnauthorized, CodeAuthFailed, "Authentication with provider failed")
			return
		}

		assertion, err := client.Identity(r.Context(), providerToken)
		if err != nil {
			log.Warn("userinfo fetch failed", zap.String("provider", name), zap.Error(err))
			writeError(w, http.StatusUnauthorized, CodeAuthFailed, "Authentication with provider failed")
			return
		}

		result, err := bridge.Login(r.Context(), *assertion)
		if err != nil {
			log.Error("login failed", zap.String("provider", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to complete login")
			return
		}

		fragment := url.Values{}
		fragment.Set("access_token", result.Pair.AccessToken)
		fragment.Set("refresh_token", result.Pair.RefreshToken)
		fragment.Set("new_account", strconv.FormatBool(result.NewAccount))
		http.Redirect(w, r, cfg.FrontendURL+"/login/complete#"+fragment.Encode(), http.StatusFound)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh exchanges a refresh token for a new access token.
func HandleRefresh(tokens *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body")
			return
		}
		if req.RefreshToken == "" {
			writeError(w, http.StatusUnauthorized, CodeMissingToken, "Refresh token required")
			return
		}

		access, err := tokens.Refresh(r.Context(), req.RefreshToken)
		switch {
		case errors.Is(err, token.ErrExpired):
			writeError(w, http.StatusUnauthorized, CodeRefreshExpired, "Refresh token expired")
		case errors.Is(err, token.ErrRevoked):
			writeError(w, http.StatusUnauthorized, CodeRefreshRevoked, "Refresh token revoked")
		case errors.Is(err, token.ErrInvalid):
			writeError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid refresh token")
		case errors.Is(err, token.ErrAccountInactive):
			writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is not active")
		case err != nil:
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
		}
	}
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

// HandleLogout revokes one refresh token, or all of them. Requires a valid
// access token; an empty body revokes everything.
func HandleLogout(tokens *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())

		var req logoutRequest
		if r.Body != nil {
			// Body is optional; decode errors fall through to revoke-all.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		if req.RefreshToken != "" && !req.All {
			n, err := tokens.Revoke(r.Context(), account.ID, req.RefreshToken)
			if err != nil {
				writeError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid refresh token")
				return
			}
			writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
			return
		}

		n, err := tokens.RevokeAll(r.Context(), account.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
	}
}

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/evalauth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Roles       []string   `json:"roles"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type loginResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

type tokenPairResponse struct {
	Success      bool      `json:"success"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type logoutResponse struct {
	Success bool `json:"success"`
}

type meResponse struct {
	ID        int64     `json:"id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errBadBody.Error())
		return
	}

	res := h.engine.Login(r.Context(), req.Email, req.Password)
	switch res.Reason {
	case evalauth.ReasonNone:
		if res.Tokens == nil || res.Identity == nil {
			writeError(w, http.StatusServiceUnavailable, res.Message)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{
			Success:      true,
			Message:      res.Message,
			User:         toUser(*res.Identity),
			AccessToken:  res.Tokens.Access.Token,
			RefreshToken: res.Tokens.Refresh.Token,
			ExpiresAt:    res.Tokens.Access.ExpiresAt,
		})
	case evalauth.ReasonAccountLocked, evalauth.ReasonTooManyAttempts:
		writeRetry(w, res.Message, res.RetryAfter)
	case evalauth.ReasonSystemError:
		writeError(w, http.StatusServiceUnavailable, res.Message)
	default:
		writeError(w, http.StatusUnauthorized, res.Message)
	}
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, errBadBody.Error())
		return
	}

	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.tokenError(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{
		Success:      true,
		AccessToken:  pair.Access.Token,
		RefreshToken: pair.Refresh.Token,
		ExpiresAt:    pair.Access.ExpiresAt,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, errBadBody.Error())
		return
	}

	revoked, err := h.engine.Logout(r.Context(), req.RefreshToken)
	if err != nil {
		h.tokenError(w, r, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Success: revoked})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := evalauth.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{ID: claims.IdentityID, Roles: claims.Roles, ExpiresAt: claims.ExpiresAt})
}

func (h *handler) identity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	ident, err := h.identities.IdentityByID(r.Context(), id)
	switch {
	case errors.Is(err, evalauth.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "identity not found")
	case err != nil:
		h.logger.WarnContext(r.Context(), "identity lookup failed", slog.Int64("identity_id", id), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeJSON(w, http.StatusOK, toUser(ident))
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Health(r.Context())
	body := map[string]any{"status": "ok"}
	if status.RedisConfigured {
		body["redis"] = map[string]any{
			"available":  status.RedisAvailable,
			"latency_ms": status.RedisLatency.Milliseconds(),
		}
	}
	if !status.Healthy() {
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) tokenError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, evalauth.ErrSystem), errors.Is(err, evalauth.ErrEngineNotReady):
		h.logger.WarnContext(r.Context(), op+" failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	}
}

func toUser(ident evalauth.Identity) userResponse {
	u := userResponse{ID: ident.ID, Email: ident.Email, Roles: ident.Roles}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if !ident.LastLoginAt.IsZero() {
		at := ident.LastLoginAt
		u.LastLoginAt = &at
	}
	return u
}

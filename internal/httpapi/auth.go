package httpapi

import (
	"net/http"
	"time"

	"collection-viewer/internal/credentials"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"
)

// loginRequest is the POST /api/auth/login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// refreshRequest is the POST /api/auth/refresh and /api/auth/logout body.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// sessionResponse is returned by login and refresh.
type sessionResponse struct {
	AccessToken  string       `json:"accessToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	RefreshToken string       `json:"refreshToken"`
	User         *models.User `json:"user"`
}

// writeUnauthorized writes a 401 with the given message. Login failures
// all share one message so responses never reveal which part was wrong.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	writeJSON(w, map[string]string{"error": message})
}

// Login verifies a username/password pair and opens a session: a short
// lived bearer token plus a stored refresh token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, errs.Validationf("username and password are required"))
		return
	}

	user, err := h.users.GetByUsername(r.Context(), req.Username)
	if errs.IsNotFound(err) {
		writeUnauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !user.IsActive || !credentials.CheckPassword(user.PasswordHash, req.Password) {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	h.openSession(w, r, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh access/refresh pair is issued. A token that is expired, revoked,
// or already rotated is rejected.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, errs.Validationf("refreshToken is required"))
		return
	}

	stored, err := h.tokens.GetByToken(r.Context(), req.RefreshToken)
	if errs.IsNotFound(err) {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !stored.Valid(time.Now()) {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	user, err := h.users.GetByID(r.Context(), stored.UserID)
	if errs.IsNotFound(err) {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !user.IsActive {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	// Revoke before reissuing so a replayed token loses the race.
	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		if errs.IsNotFound(err) {
			writeUnauthorized(w, "invalid refresh token")
			return
		}
		writeError(w, err)
		return
	}

	h.openSession(w, r, user)
}

// Logout revokes the presented refresh token. Revoking a token that is
// already gone still succeeds.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, errs.Validationf("refreshToken is required"))
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil && !errs.IsNotFound(err) {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, "logged out")
}

// openSession issues the access/refresh pair for an authenticated user and
// writes the session response.
func (h *Handlers) openSession(w http.ResponseWriter, r *http.Request, user *models.User) {
	access, expiresAt, err := h.issuer.Issue(user)
	if err != nil {
		writeError(w, err)
		return
	}

	refresh, err := credentials.NewRefreshToken(user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.tokens.Create(r.Context(), refresh); err != nil {
		writeError(w, err)
		return
	}

	if err := h.users.UpdateLastLogin(r.Context(), user.ID); err != nil {
		logging.Warn("Last login update for %s failed: %v", user.Username, err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sessionResponse{
		AccessToken:  access,
		ExpiresAt:    expiresAt,
		RefreshToken: refresh.Token,
		User:         user,
	})
}

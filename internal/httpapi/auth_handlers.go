package httpapi

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"plazaviva.org/internal/auth"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/store/pg"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      identity.User `json:"user"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	role := identity.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if role != identity.RoleClient && role != identity.RoleVendor {
		writeError(w, r, http.StatusBadRequest, "role must be CLIENT or VENDOR")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	user := &identity.User{
		Role:         role,
		Name:         req.Name,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := a.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, pg.ErrDuplicateEmail) {
			writeError(w, r, http.StatusConflict, "email already registered")
			return
		}
		a.log.Errorw("create user", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.issueToken(w, r, *user)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := a.users.FindUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		a.log.Errorw("find user by email", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, r, http.StatusForbidden, "account is deactivated")
		return
	}

	a.issueToken(w, r, *user)
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request, user identity.User) {
	token, err := auth.GenerateToken(user.ID, user.Role, a.tokenTTL)
	if err != nil {
		a.log.Errorw("generate token", "error", err)
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(a.tokenTTL),
		User:      user,
	})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// updateProfile changes the contact fields of the authenticated account.
// Empty fields keep their stored value.
func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if req.Email != "" {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			writeError(w, r, http.StatusBadRequest, "a valid email is required")
			return
		}
		user.Email = email
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		user.Phone = phone
	}
	if addr := strings.TrimSpace(req.Address); addr != "" {
		user.Address = addr
	}

	if err := a.users.UpdateUser(r.Context(), &user); err != nil {
		if errors.Is(err, pg.ErrDuplicateEmail) {
			writeError(w, r, http.StatusConflict, "email is already in use")
			return
		}
		a.log.Errorw("update user", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

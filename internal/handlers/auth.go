package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/xelth-com/trainingcms/internal/utils"
)

// LoginRequest is the admin login payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login checks the configured admin credentials and issues an access token
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if r.Config.AdminEmail == "" || r.Config.AdminPasswordHash == "" {
		respondError(w, http.StatusServiceUnavailable, "Admin login is not configured")
		return
	}

	if !strings.EqualFold(loginReq.Email, r.Config.AdminEmail) ||
		!utils.CheckPasswordHash(loginReq.Password, r.Config.AdminPasswordHash) {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	accessToken, err := utils.GenerateAdminToken(r.Config.AdminEmail, r.Config.JWTSecret, utils.AdminTokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": map[string]string{
			"accessToken": accessToken,
		},
		"expiresIn": int(utils.AdminTokenTTL.Seconds()),
	})
}

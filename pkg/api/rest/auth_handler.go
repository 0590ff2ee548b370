package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type LoginRequest struct {
	Key string `json:"key"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleLogin issues a JWT for any key present in the configured user
// list. The sniffer has no per-user roles, unlike the gateway this was
// adapted from, so every issued token carries the same "operator" role.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	valid := false
	for _, key := range s.cfg.Users {
		if key == req.Key {
			valid = true
			break
		}
	}
	if !valid {
		respondError(w, http.StatusUnauthorized, "invalid key")
		return
	}
	if s.jwtSecret == "" {
		respondError(w, http.StatusInternalServerError, "jwt secret not configured")
		return
	}

	exp := time.Now().Add(24 * time.Hour)
	claims := jwt.MapClaims{
		"sub":  req.Key,
		"role": "operator",
		"exp":  exp.Unix(),
		"iat":  time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{Token: tokenString, ExpiresAt: exp.Unix()})
}

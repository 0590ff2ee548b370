package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// Operator identifies the caller a JWT was issued to, recovered from
// its claims by Handler.
type Operator struct {
	Subject string
	Role    string
}

// OperatorFromContext returns the Operator Handler attached to r's
// context when the request carried a valid JWT. ok is false for
// requests authenticated by a bare API key, which carries no subject.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorContextKey).(Operator)
	return op, ok
}

// APIKeyAuth is a middleware that validates API keys and JWTs.
type APIKeyAuth struct {
	users     map[string]struct{} // Set of valid keys
	jwtSecret []byte
}

// NewAPIKeyAuth creates a new auth middleware.
func NewAPIKeyAuth(users []string, jwtSecret string) *APIKeyAuth {
	uMap := make(map[string]struct{})
	for _, k := range users {
		uMap[k] = struct{}{}
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &APIKeyAuth{users: uMap, jwtSecret: secret}
}

// Handler returns the middleware handler.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip for health check and metrics
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" || r.URL.Path == "/api/v1/login" {
			next.ServeHTTP(w, r)
			return
		}

		// 1. Check Authorization: Bearer <JWT> or <APIKey>
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			// Try to parse as JWT if enabled
			if a.jwtSecret != nil {
				token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return a.jwtSecret, nil
				})

				if err == nil && token.Valid {
					op := Operator{}
					if claims, ok := token.Claims.(jwt.MapClaims); ok {
						if sub, ok := claims["sub"].(string); ok {
							op.Subject = sub
						}
						if role, ok := claims["role"].(string); ok {
							op.Role = role
						}
					}
					ctx := context.WithValue(r.Context(), operatorContextKey, op)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			// If not JWT, try as API Key
			if _, ok := a.users[tokenString]; ok {
				next.ServeHTTP(w, r)
				return
			}
		}

		// 2. Check X-API-Key
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			if _, ok := a.users[apiKey]; ok {
				next.ServeHTTP(w, r)
				return
			}
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

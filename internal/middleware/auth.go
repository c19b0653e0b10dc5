// Package middleware provides HTTP middleware for the Centace API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/httputil"
	"github.com/Centace/centace/pkg/logger"
	"github.com/Centace/centace/supabase/client"
)

// ServiceRole is the role carried by backend service keys. It passes every
// role check.
const ServiceRole = "service_role"

// Claims are the Supabase access-token claims the API relies on.
type Claims struct {
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// AppRole returns the application role from app_metadata, falling back to
// the database role claim.
func (c *Claims) AppRole() string {
	if r, ok := c.AppMetadata["role"].(string); ok && r != "" {
		return r
	}
	return c.Role
}

// UserVerifier resolves an access token remotely.
type UserVerifier interface {
	GetUser(ctx context.Context, accessToken string) (*client.User, error)
}

// AuthConfig configures AuthMiddleware.
type AuthConfig struct {
	// JWTSecret verifies HS256 tokens locally.
	JWTSecret string
	// Verifier is consulted when local verification is not possible.
	Verifier  UserVerifier
	SkipPaths []string
}

// AuthMiddleware authenticates requests with Supabase access tokens.
type AuthMiddleware struct {
	secret    []byte
	verifier  UserVerifier
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(cfg AuthConfig, log *logger.Logger) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{
		secret:    []byte(cfg.JWTSecret),
		verifier:  cfg.Verifier,
		logger:    log,
		skipPaths: skip,
	}
}

type ctxKey int

const (
	roleKey ctxKey = iota
	tokenKey
	emailKey
)

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		userID, role, email, err := m.authenticate(r.Context(), token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logger.WithUserID(r.Context(), userID)
		ctx = context.WithValue(ctx, roleKey, role)
		ctx = context.WithValue(ctx, tokenKey, token)
		ctx = context.WithValue(ctx, emailKey, email)

		m.logger.WithContext(ctx).WithField("role", role).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on WebSocket handshakes, so upgrades may pass access_token in the query.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if t := r.URL.Query().Get("access_token"); t != "" {
				return t, nil
			}
		}
		return "", apperrors.Auth("missing Authorization header", nil)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.Auth("invalid Authorization header format", nil)
	}
	return strings.TrimSpace(parts[1]), nil
}

func (m *AuthMiddleware) authenticate(ctx context.Context, token string) (userID, role, email string, err error) {
	if len(m.secret) > 0 {
		claims, err := m.validateToken(token)
		if err != nil {
			return "", "", "", err
		}
		return claims.Subject, claims.AppRole(), claims.Email, nil
	}
	if m.verifier == nil {
		return "", "", "", apperrors.Internal("no token verifier configured", nil)
	}
	user, err := m.verifier.GetUser(ctx, token)
	if err != nil {
		return "", "", "", apperrors.Auth("invalid token", err)
	}
	role = user.Role
	if r, ok := user.AppMetadata["role"].(string); ok && r != "" {
		role = r
	}
	return user.ID, role, user.Email, nil
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, apperrors.Auth("invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.Auth("invalid token", nil)
	}
	if claims.Subject == "" {
		return nil, apperrors.Auth("token has no subject", nil)
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := apperrors.As(err); !ok {
		err = apperrors.Auth("authentication failed", err)
	}
	httputil.WriteError(w, err)
	m.logger.WithContext(r.Context()).WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		Debug("authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.UserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// GetToken returns the caller's access token.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// GetEmail returns the caller's email claim, if any.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(emailKey).(string)
	return email
}

// HasRole reports whether the caller holds role or the service role.
func HasRole(ctx context.Context, role string) bool {
	r := GetUserRole(ctx)
	return r == role || r == ServiceRole
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers without role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				httputil.Unauthorized(w, "")
				return
			}
			if !HasRole(r.Context(), role) {
				httputil.WriteError(w, apperrors.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/linkdesk/session-broker/internal/audit"
	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/httputil"
	"github.com/linkdesk/session-broker/internal/model"
)

type contextKey string

const CallerContextKey contextKey = "caller"

// GetCaller returns the identity stored by AuthMiddleware.
func GetCaller(ctx context.Context) (model.CallerIdentity, bool) {
	caller, ok := ctx.Value(CallerContextKey).(model.CallerIdentity)
	if !ok || caller.IsZero() {
		return model.CallerIdentity{}, false
	}
	return caller, true
}

func WithCaller(ctx context.Context, caller model.CallerIdentity) context.Context {
	return context.WithValue(ctx, CallerContextKey, caller)
}

// AuthMiddleware verifies an HS256 bearer JWT and uses its subject as the
// caller identity.
type AuthMiddleware struct {
	secret []byte
	issuer string
}

func NewAuthMiddleware(secret, issuer string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), issuer: issuer}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractToken(r)
		if raw == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		caller, err := m.Verify(raw)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: invalid token")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Verify parses raw and returns the identity it carries.
func (m *AuthMiddleware) Verify(raw string) (model.CallerIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return model.CallerIdentity{}, err
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return model.CallerIdentity{}, errors.New("token has no subject")
	}
	return model.CallerIdentity{UserID: claims.Subject}, nil
}

// extractToken reads the bearer header, falling back to the access_token
// query parameter for EventSource and WebSocket clients.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("access_token")
}

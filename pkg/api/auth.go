package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims accepted by the evaluation API.
type Claims struct {
	jwt.RegisteredClaims
	// Trackers optionally restricts the caller to these tracker ids.
	Trackers []int `json:"trackers,omitempty"`
}

// MayUse reports whether the token covers trackerID. No list means all.
func (c *Claims) MayUse(trackerID int) bool {
	if len(c.Trackers) == 0 {
		return true
	}
	for _, id := range c.Trackers {
		if id == trackerID {
			return true
		}
	}
	return false
}

// JWTValidator validates HS256 bearer tokens.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTValidator returns nil for an empty secret; the middleware then
// rejects every protected request.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Validate parses and validates a token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, errors.New("validator uninitialized")
	}
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Sign issues an HS256 token for claims. Used by the CLI and tests.
func (v *JWTValidator) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

const claimsKey ctxKey = iota + 100

// ClaimsFrom returns the claims set by the auth middleware.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// NewAuthMiddleware requires a valid bearer token on every non-public
// path. A nil validator rejects them all.
func NewAuthMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, r, "Missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || tokenStr == "" {
				WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if validator == nil {
				WriteUnauthorized(w, r, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				WriteUnauthorized(w, r, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				WriteUnauthorized(w, r, "Token subject is required")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

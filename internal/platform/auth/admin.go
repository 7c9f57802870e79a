package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ScopeSystemAdmin grants the cross-tenant administrative surface.
const ScopeSystemAdmin = "system:admin"

var (
	ErrNoSigningSecret = errors.New("admin token signing secret not configured")
	ErrInvalidToken    = errors.New("invalid admin token")
)

// AdminClaims are carried by system administrator tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants scope.
func (c *AdminClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenIssuer signs and verifies HS256 administrator tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (i *TokenIssuer) Enabled() bool {
	return len(i.secret) > 0
}

// Issue mints a token for subject with the given scopes.
func (i *TokenIssuer) Issue(subject string, scopes ...string) (string, error) {
	if !i.Enabled() {
		return "", ErrNoSigningSecret
	}
	now := i.now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a token.
func (i *TokenIssuer) Verify(tokenStr string) (*AdminClaims, error) {
	if !i.Enabled() {
		return nil, ErrNoSigningSecret
	}
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// RequireAdmin authenticates bearer tokens carrying scope. With no secret
// configured and devMode set, every request is let through as "dev" and a
// warning is logged once.
func RequireAdmin(issuer *TokenIssuer, scope string, devMode bool, logger zerolog.Logger) echo.MiddlewareFunc {
	var warnOnce sync.Once
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !issuer.Enabled() {
				if !devMode {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "administrative access is not configured")
				}
				warnOnce.Do(func() {
					logger.Warn().Msg("ADMIN_TOKEN_SECRET is empty: administrative routes are open (development mode)")
				})
				c.Set("admin_subject", "dev")
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := issuer.Verify(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			if !claims.HasScope(scope) {
				return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("token lacks scope %q", scope))
			}

			c.Set("admin_subject", claims.Subject)
			return next(c)
		}
	}
}

// AdminSubject returns the authenticated administrator, or "".
func AdminSubject(c echo.Context) string {
	s, _ := c.Get("admin_subject").(string)
	return s
}

package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/medapp/medapp/internal/platform/apperr"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is an authenticated caller and the scopes it was granted.
type Principal struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether scope was granted verbatim.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller, or nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// Claims accepts scopes both as the OAuth2 space-separated "scope" string and
// as an Auth0-style "permissions" array.
type Claims struct {
	jwt.RegisteredClaims
	Scope       string   `json:"scope,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// ScopeSet merges both scope claims, dropping duplicates.
func (c *Claims) ScopeSet() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(strings.Fields(c.Scope), c.Permissions...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification instead of JWKS.
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

// JWTMiddleware attaches a Principal for requests carrying a valid bearer
// token. Requests without an Authorization header pass through anonymously
// and are turned away later by Require where a scope is needed. A header
// that is present but malformed or invalid is rejected with 401.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL).KeyFunc()
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return next(c)
			}

			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return apperr.Unauthorized("invalid authorization format")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc)
			if err != nil || !token.Valid {
				return apperr.Unauthorized("invalid token")
			}

			p := &Principal{Subject: claims.Subject, Scopes: claims.ScopeSet()}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// DevAuthMiddleware grants every known scope to every request. Only for
// ENV=development.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := &Principal{Subject: "dev-user", Scopes: AllScopes()}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

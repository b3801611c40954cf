package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation to HS256. Development and tests only.
	SigningKey []byte
	// Skipper bypasses authentication for matching requests. Nil skips nothing.
	Skipper func(echo.Context) bool
}

// keyFunc resolves the verification key and the accepted algorithms. With a
// signing key only HS256 is accepted, otherwise only RS256 via JWKS, so a
// token cannot pick its own algorithm family.
func (cfg JWTConfig) keyFunc() (jwt.Keyfunc, []string) {
	if len(cfg.SigningKey) > 0 {
		key := cfg.SigningKey
		return func(*jwt.Token) (interface{}, error) { return key, nil }, []string{"HS256"}
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" {
		if provider, err := NewOIDCProvider(cfg.Issuer); err == nil {
			jwksURL = provider.JWKSURI
		}
	}
	return NewJWKSCache(jwksURL, defaultJWKSCacheTTL).KeyFunc(), []string{"RS256"}
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyFunc, methods := cfg.keyFunc()
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
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

			claims := &Claims{}
			token, err := parser.ParseWithClaims(parts[1], claims, keyFunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			// read by the tenant middleware
			c.Set("jwt_tenant_id", claims.TenantID)
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), claims.Subject, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin of
// defaultTenant. Requests that do carry a bearer token are validated with
// jwtCfg when it is non-nil.
func DevAuthMiddleware(defaultTenant string, jwtCfg *JWTConfig) echo.MiddlewareFunc {
	var validate echo.MiddlewareFunc
	if jwtCfg != nil {
		validate = JWTMiddleware(*jwtCfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		var validated echo.HandlerFunc
		if validate != nil {
			validated = validate(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && validated != nil {
				return validated(c)
			}
			c.Set("jwt_tenant_id", defaultTenant)
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), "dev-user", []string{"admin"})))
			return next(c)
		}
	}
}

// WithUser returns ctx carrying the authenticated subject and roles.
func WithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

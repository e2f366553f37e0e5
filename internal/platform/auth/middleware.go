package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetpms/emr/internal/emr"
)

type contextKey string

const actorKey contextKey = "actor"

// Claims are the JWT claims the practice identity provider issues for
// staff tokens. The subject is the staff member's user id.
type Claims struct {
	jwt.RegisteredClaims
	OrgID          string `json:"org_id"`
	Role           string `json:"role"`
	HierarchyLevel int    `json:"hierarchy_level"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware validates the bearer token and resolves the acting staff
// member into the request context. Requests without a valid token never
// reach a handler.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
			}

			// The tenant middleware keys the schema off the org claim.
			c.Set("jwt_org_id", claims.OrgID)

			ctx := context.WithValue(c.Request().Context(), actorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func actorFromClaims(claims *Claims) (emr.Actor, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return emr.Actor{}, err
	}
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return emr.Actor{}, err
	}
	level := claims.HierarchyLevel
	if level == 0 {
		level = emr.RoleLevels[claims.Role]
	}
	return emr.Actor{
		ID:    userID,
		OrgID: orgID,
		Role:  claims.Role,
		Level: level,
	}, nil
}

// DevAuthMiddleware resolves every unauthenticated request as a practice
// manager in a fixed development org. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	devActor := emr.Actor{
		ID:    uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		OrgID: uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		Role:  emr.RolePracticeManager,
		Level: emr.RoleLevels[emr.RolePracticeManager],
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("jwt_org_id", "dev")
			ctx := context.WithValue(c.Request().Context(), actorKey, devActor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ActorFromContext returns the authenticated actor, or false if the
// request was not authenticated.
func ActorFromContext(ctx context.Context) (emr.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(emr.Actor)
	return actor, ok
}

// WithActor returns a context carrying the given actor. Used by tests and
// by CLI commands that act as a system user.
func WithActor(ctx context.Context, actor emr.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

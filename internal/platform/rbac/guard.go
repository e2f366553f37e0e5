package rbac

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/auth"
)

// RequireRole returns middleware that rejects requests whose actor does
// not meet the named role's hierarchy level.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := auth.ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !actor.AtLeast(role) {
				return echo.NewHTTPError(http.StatusForbidden, "required role: "+role)
			}
			return next(c)
		}
	}
}

// Actor pulls the authenticated actor out of an echo context, for
// handlers that pass it on to a service call.
func Actor(c echo.Context) (emr.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return emr.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return actor, nil
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClaimsKey     contextKey = "workflow_claims"
	WorkflowIDKey contextKey = "workflow_id"
)

// RequireWorkflow checks the bearer token and that it was issued for the
// workflow named by the :id path parameter.
func RequireWorkflow(issuer *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := issuer.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if id := c.Param("id"); id != "" && id != claims.WorkflowID {
				return echo.NewHTTPError(http.StatusForbidden, "token does not grant this workflow")
			}

			c.Set(string(ClaimsKey), claims)
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, WorkflowIDKey, claims.WorkflowID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

func WorkflowIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(WorkflowIDKey).(string)
	return id
}

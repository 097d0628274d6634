package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const ctxPrincipalID = "principal_id"

// authenticate resolves the caller from the Authorization header and stores
// the principal id in the request context. Roles are never read from the
// token; they are looked up in the directory when a decision needs them.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("missing bearer token"))
		}

		principalID, err := s.identityService.VerifyToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody("invalid token"))
		}

		c.Set(ctxPrincipalID, principalID)
		return next(c)
	}
}

func callerID(c echo.Context) string {
	id, _ := c.Get(ctxPrincipalID).(string)
	return id
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Router builds the echo instance with all routes registered. Everything under
// /api except auth requires a bearer token.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	api := e.Group("/api")

	api.POST("/auth/register", s.handleRegisterPrincipal)
	api.POST("/auth/login", s.handleLogin)

	authed := api.Group("", s.authenticate)
	authed.GET("/me", s.handleMe)

	authed.POST("/roles/grant", s.handleGrantRole)
	authed.POST("/roles/revoke", s.handleRevokeRole)

	authed.POST("/products", s.handleRegisterProduct)
	authed.GET("/products", s.handleListMyProducts)
	authed.GET("/products/:id", s.handleGetProduct)
	authed.GET("/products/:id/warranty", s.handleWarrantyStatus)
	authed.POST("/products/:id/transfer", s.handleTransfer)
	authed.POST("/products/:id/claims", s.handleSubmitClaim)

	authed.GET("/claims/:id", s.handleGetClaim)
	authed.POST("/claims/:id/decision", s.handleProcessClaim)
	authed.POST("/claims/:id/service", s.handleRecordService)

	return e
}

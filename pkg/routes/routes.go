// Package routes assembles the HTTP API.
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/codes"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/projects"
)

// NewServer builds the echo instance with middleware, /metrics, health and
// the project-scoped catalog routes under /api/v1/projects/:project_id.
func NewServer(appName string, svc *governance.Service, checker *health.Checker, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(appName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if checker != nil {
		checker.RegisterRoutes(e)
	}

	g := e.Group("/api/v1/projects/:" + middleware.ParamProjectID)
	codes.NewHandler(svc).Register(g)
	projects.NewHandler(svc).Register(g)

	return e
}

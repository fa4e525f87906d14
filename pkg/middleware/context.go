package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

const (
	// HeaderActor identifies the caller recorded in history
	HeaderActor = "X-Actor"
	// ParamProjectID is the route parameter scoping every catalog route
	ParamProjectID = "project_id"
)

// Context copies request id, route, project and actor onto the request context.
// It must run after routing so the project path parameter is bound.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetActor(ctx, req.Header.Get(HeaderActor))
			if projectID := c.Param(ParamProjectID); projectID != "" {
				ctx = context.SetProjectID(ctx, projectID)
			}

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

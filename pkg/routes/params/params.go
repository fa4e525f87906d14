// Package params parses path and query parameters shared by the route handlers.
package params

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// StableID parses the :stable_id path parameter.
func StableID(c echo.Context) (int64, error) {
	raw := c.Param("stable_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "stable_id must be a positive integer").AddMetaValue("stable_id", raw)
	}
	return id, nil
}

// OptionalInt parses an integer query parameter, returning nil when absent.
func OptionalInt(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, name+" must be an integer").AddMetaValue(name, raw)
	}
	return &v, nil
}

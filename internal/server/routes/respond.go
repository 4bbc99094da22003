// Package routes contains one handler file per resource. Handlers bind
// and validate the request at the boundary, call the injected engines,
// and map errors through the shared taxonomy in respondError.
package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/internal/server/middleware"
	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/logger"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondError maps the error taxonomy to HTTP statuses: validation
// failures to 400, typed absence to 404, capability gaps to 503 and
// everything else to a generic 500 with the cause logged, not leaked.
func respondError(c echo.Context, err error) error {
	var validation *common.ValidationError
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error: validation.Message,
			Field: validation.Field,
		})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrUnsupported):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("Request timed out", "path", c.Path(), "err", err)
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "request timed out"})
	default:
		logger.Error("Request failed", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// respondUnavailable is the uniform answer for a disabled feature gate.
func respondUnavailable(c echo.Context, feature string) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{
		Error: "feature " + feature + " is disabled",
	})
}

func app(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

// bindAndValidate returns a ValidationError so handlers can route both
// schema and engine-level validation through respondError.
func bindAndValidate(c echo.Context, data any) error {
	if err := c.Bind(data); err != nil {
		return common.Invalid("body", "invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return common.Invalid("body", "%v", err)
	}
	return nil
}

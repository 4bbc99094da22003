package routes

import (
	"net/http"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/rawquery"
)

// ValidateRawQueryHandler validates a pass-through query without
// executing it.
func ValidateRawQueryHandler(c echo.Context) error {
	if !app(c).Features.RawQuery {
		return respondUnavailable(c, "rawquery")
	}

	type validateBody struct {
		Query       string `json:"query" validate:"required"`
		AllowWrites bool   `json:"allow_writes"`
	}

	data := new(validateBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rawquery.Validate(data.Query, data.AllowWrites))
}

// ExecuteRawQueryHandler validates and executes a pass-through query
// with bounded limit and timeout.
func ExecuteRawQueryHandler(c echo.Context) error {
	if !app(c).Features.RawQuery {
		return respondUnavailable(c, "rawquery")
	}

	type executeBody struct {
		Query       string `json:"query" validate:"required"`
		Parameters  []any  `json:"parameters"`
		Limit       int    `json:"limit"`
		TimeoutMs   int    `json:"timeout_ms"`
		AllowWrites bool   `json:"allow_writes"`
	}

	data := new(executeBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	rows, err := app(c).RawQuery.Execute(c.Request().Context(), data.Query, rawquery.ExecuteOptions{
		Parameters:  data.Parameters,
		Limit:       data.Limit,
		Timeout:     time.Duration(data.TimeoutMs) * time.Millisecond,
		AllowWrites: data.AllowWrites,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

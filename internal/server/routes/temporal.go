package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, common.Invalid("date", "must be RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}

// ActiveOnDateHandler lists the entity versions active on a date.
func ActiveOnDateHandler(c echo.Context) error {
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return respondError(c, err)
	}
	versions, err := app(c).Temporal.ActiveOnDate(c.Request().Context(), date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

// DateRangeHandler lists the entity versions intersecting a date range.
func DateRangeHandler(c echo.Context) error {
	start, err := parseDate(c.QueryParam("start"))
	if err != nil {
		return respondError(c, err)
	}
	end, err := parseDate(c.QueryParam("end"))
	if err != nil {
		return respondError(c, err)
	}
	versions, err := app(c).Temporal.Range(c.Request().Context(), start, end)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

// EntityHistoryHandler lists all versions of an entity ascending.
func EntityHistoryHandler(c echo.Context) error {
	versions, err := app(c).Temporal.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"entity_id": c.Param("id"), "versions": versions})
}

// EntityStateAtHandler reconstructs an entity's state on a date.
func EntityStateAtHandler(c echo.Context) error {
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return respondError(c, err)
	}
	state, err := app(c).Temporal.StateAt(c.Request().Context(), c.Param("id"), date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// CompareVersionsHandler diffs two versions of an entity field by field.
func CompareVersionsHandler(c echo.Context) error {
	v1, err1 := strconv.Atoi(c.QueryParam("v1"))
	v2, err2 := strconv.Atoi(c.QueryParam("v2"))
	if err1 != nil || err2 != nil {
		return respondError(c, common.Invalid("versions", "v1 and v2 must be integers"))
	}
	comparison, err := app(c).Temporal.Compare(c.Request().Context(), c.Param("id"), v1, v2)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, comparison)
}

// ValidateConsistencyHandler checks an entity's version history and
// reports violations instead of failing.
func ValidateConsistencyHandler(c echo.Context) error {
	report, err := app(c).Temporal.Validate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

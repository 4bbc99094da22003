package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// GetStatsHandler reports graph size and the entity type distribution.
func GetStatsHandler(c echo.Context) error {
	type statsResponse struct {
		Stats        *common.GraphStats        `json:"stats"`
		Distribution map[common.EntityType]int `json:"distribution"`
		Capabilities store.Capabilities        `json:"capabilities"`
	}

	ctx := c.Request().Context()
	graphStore := app(c).Store

	stats, err := graphStore.GetStats(ctx)
	if err != nil {
		return respondError(c, err)
	}
	distribution, err := graphStore.GetEntityTypeDistribution(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, statsResponse{
		Stats:        stats,
		Distribution: distribution,
		Capabilities: graphStore.Capabilities(),
	})
}

// GetNodeHandler returns one entity by id.
func GetNodeHandler(c echo.Context) error {
	node, err := app(c).Store.GetNode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}

// GetSnapshotHandler returns a bounded graph export.
func GetSnapshotHandler(c echo.Context) error {
	type snapshotBody struct {
		Limit int `query:"limit"`
	}

	data := new(snapshotBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	snapshot, err := app(c).Store.GetGraphSnapshot(c.Request().Context(), data.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

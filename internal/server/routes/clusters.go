package routes

import (
	"net/http"
	"strconv"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/cluster"
)

// BuildClustersHandler runs one clustering strategy over a fresh graph
// snapshot and returns the resulting meta-graph.
func BuildClustersHandler(c echo.Context) error {
	type clusterBody struct {
		Strategy       string `json:"strategy"`
		MinClusterSize int    `json:"min_cluster_size"`
		SnapshotLimit  int    `json:"snapshot_limit"`
		MaxIterations  int    `json:"max_iterations"`
	}

	data := new(clusterBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	result, err := app(c).Clusters.Build(c.Request().Context(), cluster.Options{
		Strategy:       cluster.Strategy(data.Strategy),
		MinClusterSize: data.MinClusterSize,
		SnapshotLimit:  data.SnapshotLimit,
		MaxIterations:  data.MaxIterations,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetClusterEntitiesHandler returns the deduplicated, paginated entity
// list of one cluster.
func GetClusterEntitiesHandler(c echo.Context) error {
	type entitiesResponse struct {
		ClusterID string   `json:"cluster_id"`
		EntityIDs []string `json:"entity_ids"`
		Total     int      `json:"total"`
		Offset    int      `json:"offset"`
		Limit     int      `json:"limit"`
	}

	clusterID := c.Param("id")
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	entityIDs, total, err := app(c).Clusters.ClusterEntities(c.Request().Context(), clusterID, offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entitiesResponse{
		ClusterID: clusterID,
		EntityIDs: entityIDs,
		Total:     total,
		Offset:    offset,
		Limit:     limit,
	})
}

package server

import (
	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Graph routes
	apiRoutes.GET("/graph/stats", routes.GetStatsHandler)
	apiRoutes.GET("/graph/snapshot", routes.GetSnapshotHandler)
	apiRoutes.GET("/graph/nodes/:id", routes.GetNodeHandler)
	apiRoutes.POST("/graph/traverse", routes.TraverseHandler)
	apiRoutes.POST("/graph/path", routes.FindPathHandler)
	apiRoutes.POST("/graph/subgraph", routes.ExtractSubgraphHandler)
	apiRoutes.POST("/graph/steiner", routes.SteinerTreeHandler)

	// Clustering routes
	apiRoutes.POST("/graph/clusters", routes.BuildClustersHandler)
	apiRoutes.GET("/graph/clusters/:id/entities", routes.GetClusterEntitiesHandler)

	// Retrieval routes
	apiRoutes.POST("/query/facts", routes.FactQueryHandler)
	apiRoutes.POST("/query/graphrag", routes.GraphRAGHandler)
	apiRoutes.POST("/query/answer", routes.GenerateAnswerHandler)

	// Inference routes
	apiRoutes.POST("/inference/run", routes.RunInferenceHandler)
	apiRoutes.POST("/inference/jobs", routes.EnqueueInferenceJobHandler)

	// Change detection routes
	apiRoutes.POST("/changes/detect", routes.DetectChangesHandler)
	apiRoutes.POST("/changes/detect-batch", routes.DetectBatchChangesHandler)
	apiRoutes.POST("/changes/apply", routes.ApplyChangeSetHandler)
	apiRoutes.POST("/changes/jobs", routes.EnqueueUpdateJobHandler)

	// Temporal routes
	apiRoutes.GET("/temporal/active", routes.ActiveOnDateHandler)
	apiRoutes.GET("/temporal/range", routes.DateRangeHandler)
	apiRoutes.GET("/temporal/entities/:id/history", routes.EntityHistoryHandler)
	apiRoutes.GET("/temporal/entities/:id/state", routes.EntityStateAtHandler)
	apiRoutes.GET("/temporal/entities/:id/compare", routes.CompareVersionsHandler)
	apiRoutes.GET("/temporal/entities/:id/validate", routes.ValidateConsistencyHandler)

	// Raw query routes
	apiRoutes.POST("/rawquery/validate", routes.ValidateRawQueryHandler)
	apiRoutes.POST("/rawquery/execute", routes.ExecuteRawQueryHandler)
}

package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
	"github.com/inrep-lab/lexgraph/backend/pkg/traverse"
)

// TraverseHandler runs a bounded BFS/DFS/hybrid walk from a start node.
func TraverseHandler(c echo.Context) error {
	type traverseBody struct {
		StartNodeID       string              `json:"start_node_id" validate:"required"`
		MaxDepth          int                 `json:"max_depth"`
		MaxNodes          int                 `json:"max_nodes"`
		RelationshipTypes []string            `json:"relationship_types"`
		EntityTypes       []common.EntityType `json:"entity_types"`
		Direction         string              `json:"direction"`
		Strategy          string              `json:"strategy"`
	}

	data := new(traverseBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	result, err := app(c).Traversal.Traverse(c.Request().Context(), data.StartNodeID, traverse.Options{
		MaxDepth:          data.MaxDepth,
		MaxNodes:          data.MaxNodes,
		RelationshipTypes: data.RelationshipTypes,
		EntityTypes:       data.EntityTypes,
		Direction:         store.Direction(data.Direction),
		Strategy:          traverse.Strategy(data.Strategy),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// FindPathHandler returns the shortest path between two nodes, or a
// typed not-found body when no path exists within the depth bound.
func FindPathHandler(c echo.Context) error {
	type pathBody struct {
		StartNodeID       string   `json:"start_node_id" validate:"required"`
		EndNodeID         string   `json:"end_node_id" validate:"required"`
		MaxDepth          int      `json:"max_depth"`
		MaxNodes          int      `json:"max_nodes"`
		RelationshipTypes []string `json:"relationship_types"`
		Direction         string   `json:"direction"`
	}

	type pathResponse struct {
		Found bool           `json:"found"`
		Path  *traverse.Path `json:"path,omitempty"`
	}

	data := new(pathBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	path, err := app(c).Traversal.FindPath(c.Request().Context(), data.StartNodeID, data.EndNodeID, traverse.Options{
		MaxDepth:          data.MaxDepth,
		MaxNodes:          data.MaxNodes,
		RelationshipTypes: data.RelationshipTypes,
		Direction:         store.Direction(data.Direction),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pathResponse{Found: path != nil, Path: path})
}

// ExtractSubgraphHandler returns the ball of nodes within radius hops
// of a center node plus the induced edges.
func ExtractSubgraphHandler(c echo.Context) error {
	type subgraphBody struct {
		CenterNodeID      string              `json:"center_node_id" validate:"required"`
		Radius            int                 `json:"radius"`
		MaxNodes          int                 `json:"max_nodes"`
		RelationshipTypes []string            `json:"relationship_types"`
		EntityTypes       []common.EntityType `json:"entity_types"`
	}

	data := new(subgraphBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	result, err := app(c).Traversal.ExtractSubgraph(c.Request().Context(), data.CenterNodeID, data.Radius, traverse.Options{
		MaxNodes:          data.MaxNodes,
		RelationshipTypes: data.RelationshipTypes,
		EntityTypes:       data.EntityTypes,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

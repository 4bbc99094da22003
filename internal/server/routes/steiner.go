package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/traverse"
)

// SteinerTreeHandler computes an approximate minimum connecting tree
// over the terminal set. Terminals come either as explicit node ids or
// resolved from a free-text query; a null tree means no tree exists
// within the bounds, which is a valid outcome, not an error.
func SteinerTreeHandler(c echo.Context) error {
	type steinerBody struct {
		Query             string   `json:"query"`
		TerminalNodeIDs   []string `json:"terminal_node_ids"`
		MaxDepth          int      `json:"max_depth"`
		MaxNodes          int      `json:"max_nodes"`
		RelationshipTypes []string `json:"relationship_types"`
		MinWeight         float64  `json:"min_weight"`
	}

	type steinerResponse struct {
		Found bool                    `json:"found"`
		Tree  *traverse.SteinerResult `json:"tree,omitempty"`
	}

	data := new(steinerBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	engine := app(c).Traversal

	terminals := data.TerminalNodeIDs
	if len(terminals) == 0 && data.Query != "" {
		resolved, err := engine.ResolveTerminals(ctx, data.Query, 10)
		if err != nil {
			return respondError(c, err)
		}
		terminals = resolved
	}

	tree, err := engine.SteinerTree(ctx, terminals, traverse.SteinerOptions{
		MaxDepth:          data.MaxDepth,
		MaxNodes:          data.MaxNodes,
		RelationshipTypes: data.RelationshipTypes,
		MinWeight:         data.MinWeight,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, steinerResponse{Found: tree != nil, Tree: tree})
}

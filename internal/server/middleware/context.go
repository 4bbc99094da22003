package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
	"github.com/inrep-lab/lexgraph/backend/pkg/changes"
	"github.com/inrep-lab/lexgraph/backend/pkg/cluster"
	"github.com/inrep-lab/lexgraph/backend/pkg/inference"
	"github.com/inrep-lab/lexgraph/backend/pkg/rawquery"
	"github.com/inrep-lab/lexgraph/backend/pkg/retrieval"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
	"github.com/inrep-lab/lexgraph/backend/pkg/temporal"
	"github.com/inrep-lab/lexgraph/backend/pkg/traverse"
)

// Features are the capability gates resolved once at startup. A request
// hitting a disabled feature gets a 503-class response, never a 500.
type Features struct {
	Inference bool
	RawQuery  bool
	GraphRAG  bool
}

// App carries every service the handlers use. Everything is constructed
// once at startup and injected; handlers never build dependencies.
type App struct {
	Store        store.GraphStore
	Queue        *amqp091.Channel
	AiClient     ai.Client
	Traversal    *traverse.Engine
	Clusters     *cluster.Builder
	Orchestrator *retrieval.Orchestrator
	Facts        *retrieval.FactFinder
	Inference    *inference.Engine
	Detector     *changes.Detector
	Updater      *changes.Updater
	Temporal     *temporal.Service
	RawQuery     *rawquery.Executor
	Features     Features
}

type AppContext struct {
	echo.Context
	App *App
}

// AppContextMiddleware wraps every request context with the shared
// application services.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}

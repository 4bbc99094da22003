package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/inrep-lab/lexgraph/backend/internal/queue"
	mid "github.com/inrep-lab/lexgraph/backend/internal/server/middleware"
	"github.com/inrep-lab/lexgraph/backend/internal/storage"
	"github.com/inrep-lab/lexgraph/backend/internal/util"
	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
	oai "github.com/inrep-lab/lexgraph/backend/pkg/ai/ollama"
	gai "github.com/inrep-lab/lexgraph/backend/pkg/ai/openai"
	"github.com/inrep-lab/lexgraph/backend/pkg/changes"
	"github.com/inrep-lab/lexgraph/backend/pkg/cluster"
	"github.com/inrep-lab/lexgraph/backend/pkg/inference"
	"github.com/inrep-lab/lexgraph/backend/pkg/logger"
	"github.com/inrep-lab/lexgraph/backend/pkg/rawquery"
	"github.com/inrep-lab/lexgraph/backend/pkg/retrieval"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
	pgstore "github.com/inrep-lab/lexgraph/backend/pkg/store/pgx"
	"github.com/inrep-lab/lexgraph/backend/pkg/store/snapshot"
	"github.com/inrep-lab/lexgraph/backend/pkg/temporal"
	"github.com/inrep-lab/lexgraph/backend/pkg/traverse"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graphStore, cleanup := initStore(ctx)
	defer cleanup()

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	aiClient := NewAIClient()

	traversal := traverse.NewEngine(graphStore)
	app := &mid.App{
		Store:        graphStore,
		Queue:        ch,
		AiClient:     aiClient,
		Traversal:    traversal,
		Clusters:     cluster.NewBuilder(graphStore),
		Orchestrator: retrieval.NewOrchestrator(graphStore, traversal, aiClient),
		Facts:        retrieval.NewFactFinder(graphStore),
		Inference:    inference.New(graphStore),
		Detector:     changes.NewDetector(graphStore),
		Updater:      changes.NewUpdater(graphStore),
		Temporal:     temporal.New(graphStore),
		RawQuery:     rawquery.NewExecutor(graphStore),
		Features: mid.Features{
			Inference: util.GetEnvBool("FEATURE_INFERENCE", true),
			RawQuery:  util.GetEnvBool("FEATURE_RAW_QUERY", false),
			GraphRAG:  util.GetEnvBool("FEATURE_GRAPHRAG", true),
		},
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("16M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// initStore selects the backend once at startup. Callers only ever see
// the GraphStore interface and its capability surface.
func initStore(ctx context.Context) (store.GraphStore, func()) {
	backend := util.GetEnvString("GRAPH_BACKEND", "postgres")
	switch backend {
	case "snapshot":
		if path := util.GetEnv("SNAPSHOT_FILE"); path != "" {
			s, err := snapshot.LoadFile(path)
			if err != nil {
				logger.Fatal("Failed to load graph snapshot", "path", path, "err", err)
			}
			return s, func() {}
		}
		client := storage.NewS3Client(ctx)
		bucket := util.GetEnv("SNAPSHOT_BUCKET")
		key := util.GetEnv("SNAPSHOT_KEY")
		s, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) (*snapshot.Store, error) {
			return snapshot.LoadS3(ctx, client, bucket, key)
		})
		if err != nil {
			logger.Fatal("Failed to load graph snapshot from S3", "bucket", bucket, "key", key, "err", err)
		}
		return s, func() {}
	case "postgres":
		runMigrations()
		conn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
		return pgstore.NewGraphDBStore(conn), conn.Close
	default:
		logger.Fatal("Unknown graph backend", "backend", backend)
		return nil, nil
	}
}

func runMigrations() {
	m, err := migrate.New("file://migrations", util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to init migrations", "err", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}
}

// NewAIClient builds the embedding/answer client selected by the
// AI_ADAPTER env. Constructed once; also used by the worker binary.
func NewAIClient() ai.Client {
	adapter := util.GetEnv("AI_ADAPTER")
	switch adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:      util.GetEnv("AI_EMBED_MODEL"),
			AnswerModel:         util.GetEnv("AI_ANSWER_MODEL"),
			EmbeddingDimensions: int(util.GetEnvNumeric("AI_EMBED_DIMENSIONS", 1024)),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	case "none":
		return nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:      util.GetEnv("AI_EMBED_MODEL"),
			AnswerModel:         util.GetEnv("AI_ANSWER_MODEL"),
			EmbeddingDimensions: int(util.GetEnvNumeric("AI_EMBED_DIMENSIONS", 1536)),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
		})
	}
}

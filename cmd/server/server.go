package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"jan-server/services/mcp-gateway/internal/config"
	"jan-server/services/mcp-gateway/internal/domain/dispatch"
	"jan-server/services/mcp-gateway/internal/infrastructure/database"
	"jan-server/services/mcp-gateway/internal/infrastructure/llmprovider"
	"jan-server/services/mcp-gateway/internal/infrastructure/logger"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/registry"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/retry"
	"jan-server/services/mcp-gateway/internal/infrastructure/observability"
	mcpserverrepo "jan-server/services/mcp-gateway/internal/infrastructure/repository/mcpserver"
	"jan-server/services/mcp-gateway/internal/interfaces/httpserver"
)

// Application wires the HTTP admin/dispatch surface to the process
// lifecycle, mirroring the teacher's own Application/Start shape.
type Application struct {
	httpServer *httpserver.HTTPServer
	registry   *registry.Registry
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HTTPServer, reg *registry.Registry, log zerolog.Logger) *Application {
	return &Application{httpServer: httpServer, registry: reg, log: log}
}

func (a *Application) Start(ctx context.Context) error {
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(database.Config{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DBDSN,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	repo := mcpserverrepo.New(db)
	supervisor := retry.NewSupervisor()
	reg := registry.New(repo, supervisor, log)

	if err := reg.LoadFromPersistence(ctx); err != nil {
		log.Fatal().Err(err).Msg("load persisted server specs")
	}
	reg.StartAll(ctx)
	defer reg.Shutdown()

	mcpFacade := facade.New(reg, log)

	// llmprovider.EchoProvider is a placeholder collaborator: the engine
	// depends only on the llm.Provider interface (spec §1 Non-goals — no
	// vendor wire adapters ship here). Embedding services inject their own.
	dispatchLoop := dispatch.NewLoop(mcpFacade, llmprovider.NewEchoProvider(), log)

	httpServer := httpserver.New(cfg, log, mcpFacade, dispatchLoop)
	app := NewApplication(httpServer, reg, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/prodtrace/prodtrace/internal/config"
	"github.com/prodtrace/prodtrace/internal/counter"
	"github.com/prodtrace/prodtrace/internal/db"
	"github.com/prodtrace/prodtrace/internal/importer"
	"github.com/prodtrace/prodtrace/internal/ingestion"
	"github.com/prodtrace/prodtrace/internal/middleware"
	"github.com/prodtrace/prodtrace/internal/query"
	"github.com/prodtrace/prodtrace/internal/report"
	"github.com/prodtrace/prodtrace/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := conn.RunMigrations(cfg.Server.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	tenantRepo := repository.NewTenantRepository(conn.Pool)
	jobRepo := repository.NewUploadJobRepository(conn.Pool)
	errorRepo := repository.NewValidationErrorRepository(conn.Pool)
	recordRepo := repository.NewRecordRepository(conn.Pool)

	importSvc := importer.NewService(jobRepo, recordRepo, logger)
	uploadSvc := ingestion.NewService(
		tenantRepo, jobRepo, errorRepo, importSvc,
		counter.NewStore(), cfg.Server.UploadLimit, cfg.Server.UploadWindow,
		logger,
	)
	reporter := report.NewReporter(errorRepo, logger)
	correlator := query.NewCorrelator(recordRepo, logger)

	handler := ingestion.NewHandler(uploadSvc, reporter, correlator, tenantRepo, jobRepo, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.Logging(logger)(handler.Routes())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

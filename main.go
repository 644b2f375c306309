package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/config"
	"github.com/biomarklabs/biomark-engine/pkg/database"
	"github.com/biomarklabs/biomark-engine/pkg/handlers"
	"github.com/biomarklabs/biomark-engine/pkg/logging"
	"github.com/biomarklabs/biomark-engine/pkg/middleware"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
	"github.com/biomarklabs/biomark-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("upload_dir", cfg.UploadDir))

	ctx := context.Background()

	// Migrations run over database/sql; the application itself uses pgxpool.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	db, err := database.Connect(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxConnections)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	patientRepo := repositories.NewPatientRepository(db)
	studyRepo := repositories.NewStudyRepository(db)
	variableRepo := repositories.NewVariableRepository(db)
	membershipRepo := repositories.NewUserStudyRepository(db)
	resultRepo := repositories.NewResultRepository(db)
	jobRepo := repositories.NewImportJobRepository(db)

	reader := services.NewFileReader(logger)
	classifier := services.NewColumnClassifier()
	matcher := services.NewPatientMatcher(patientRepo, logger)
	synthesizer := services.NewSchemaSynthesizer(variableRepo, classifier, logger)

	importService := services.NewImportService(
		jobRepo, patientRepo, membershipRepo, resultRepo, variableRepo,
		reader, classifier, synthesizer, cfg.Import, cfg.UploadDir, logger)
	previewService := services.NewPreviewService(
		membershipRepo, reader, classifier, matcher, cfg.Import, cfg.UploadDir, logger)
	studyService := services.NewStudyService(
		studyRepo, variableRepo, membershipRepo, resultRepo, patientRepo, jobRepo, logger)
	patientService := services.NewPatientService(patientRepo, matcher, logger)
	templateService := services.NewTemplateService(studyRepo, variableRepo, logger)

	// Jobs left RUNNING by a previous process can never complete; pause
	// them so they can be resumed deliberately.
	if err := importService.PauseInterrupted(ctx); err != nil {
		logger.Fatal("Failed to recover interrupted import jobs", zap.Error(err))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDatasetHandler(studyService, templateService, logger).RegisterRoutes(mux)
	handlers.NewPatientHandler(patientService, logger).RegisterRoutes(mux)
	handlers.NewImportHandler(importService, previewService, cfg.UploadDir, logger).RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(middleware.Recover(logger)(mux))

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting biomark-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

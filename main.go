package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/prompt-forge/pkg/cache"
	"github.com/ekaya-inc/prompt-forge/pkg/config"
	"github.com/ekaya-inc/prompt-forge/pkg/database"
	"github.com/ekaya-inc/prompt-forge/pkg/handlers"
	"github.com/ekaya-inc/prompt-forge/pkg/llm"
	"github.com/ekaya-inc/prompt-forge/pkg/logging"
	"github.com/ekaya-inc/prompt-forge/pkg/metrics"
	"github.com/ekaya-inc/prompt-forge/pkg/models"
	"github.com/ekaya-inc/prompt-forge/pkg/repositories"
	"github.com/ekaya-inc/prompt-forge/pkg/services"
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
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("classifier_provider", cfg.Classifier.Provider),
		zap.Int("max_prompt_tokens", cfg.Pipeline.MaxPromptTokens))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql; the pool below is pgx-native.
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open database for migrations", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	classifier, err := llm.NewClassifier(cfg.Classifier.Provider, &llm.Config{
		Endpoint:       cfg.Classifier.BaseURL,
		Model:          cfg.Classifier.Model,
		EmbeddingModel: cfg.Classifier.EmbeddingModel,
		APIKey:         cfg.Classifier.APIKey,
		Temperature:    cfg.Classifier.Temperature,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create classifier", zap.Error(err))
	}

	// Repositories
	metadataStore := repositories.NewMetadataStore(db)
	relationshipFinder := repositories.NewRelationshipFinder(db)
	exampleStore := repositories.NewExampleStore(db)
	traceStore := repositories.NewTraceStore(db)

	templateRepo := repositories.NewTemplateRepository(db)
	if cfg.TemplateCorpusPath != "" {
		if _, statErr := os.Stat(cfg.TemplateCorpusPath); statErr == nil {
			seeded, loadErr := repositories.NewYAMLTemplateRepository(cfg.TemplateCorpusPath)
			if loadErr != nil {
				logger.Fatal("Failed to load template corpus", zap.Error(loadErr))
			}
			templateRepo = seeded
			logger.Info("Using YAML template corpus", zap.String("path", cfg.TemplateCorpusPath))
		}
	}

	// Caches share one janitor lifetime bound to shutdown.
	retrievalCache := cache.New[*models.ContextualSchema](time.Minute, ctx.Done())
	templateCache := cache.New[[]models.PromptTemplate](time.Minute, ctx.Done())
	traceCache := cache.New[*models.ConstructionTrace](time.Minute, ctx.Done())

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry)

	// Services
	scoring := services.NewLexicalScoring()
	estimator := services.NewHeuristicTokenEstimator()
	analyzer := services.NewContextAnalyzer(
		classifier, scoring, services.DefaultDomainRegistry(), metadataStore, logger, nil)
	retrieval := services.NewRetrievalEngine(
		metadataStore, relationshipFinder, scoring, retrievalCache,
		time.Duration(cfg.Cache.RetrievalTTLSeconds)*time.Second,
		cfg.Pipeline.MaxColumnsPerTable, logger)
	sections := services.NewSectionBuilder(estimator)
	assembly := services.NewAssemblyEngine(cfg.Pipeline.DPBudgetLimit, logger)
	selector := services.NewTemplateSelector(
		templateRepo, templateCache,
		time.Duration(cfg.Cache.TemplateTTLSeconds)*time.Second,
		cfg.Pipeline.TemplateQualityThreshold, logger)
	assembler := services.NewPromptAssembler(scoring, estimator, logger)
	traces := services.NewTraceManager(
		traceStore, traceCache,
		time.Duration(cfg.Cache.TraceTTLSeconds)*time.Second, logger)

	pipeline := services.NewPromptConstructionService(
		analyzer, retrieval, sections, assembly, selector, assembler,
		exampleStore, traces, estimator, sink, cfg.Pipeline, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewConstructHandler(pipeline, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting prompt-forge",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

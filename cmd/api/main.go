// Command api runs the clover tenant registry service: the HTTP surface,
// the sync scheduler and the workspace ingestion pipeline in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/synchistory"
	"github.com/Ramsey-B/clover/internal/repositories/tenant"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/ratelimit"
	"github.com/Ramsey-B/clover/pkg/routes/admin"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/webhook"
	"github.com/Ramsey-B/clover/pkg/scheduler"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/syncer"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
	"github.com/Ramsey-B/clover/pkg/utils"
	"github.com/Ramsey-B/clover/pkg/workspace"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnvVariables(&cfg); err != nil {
		log.Fatalf("failed to bind config: %v", err)
	}
	if _, err := utils.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	zapLogger, err := buildZapLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	if cfg.WebhookSecret == "" {
		logger.Warn("Webhook signature verification is disabled, set WEBHOOK_SECRET to enable it")
	}

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		zapLogger.Fatal("failed to set up tracing", zap.Error(err))
	}

	sqlxDB, err := openDatabase(cfg)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err))
	}
	db := database.NewDatabaseInstance(sqlxDB, logger)

	migrationService := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})

	tenantRepo := tenant.NewRepository(db, logger)
	historyRepo := synchistory.NewRepository(db, logger)

	clock := ratelimit.NewClock()
	pacer := ratelimit.NewIntervalPacer(clock, cfg.SyncRecordDelayMin, cfg.SyncRecordDelayMax)
	httpClient := httpclient.NewClient(httpclient.Config{
		Timeout:         cfg.WorkspaceTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}, logger)
	source := workspace.NewClient(workspace.Config{
		BaseURL:  cfg.WorkspaceBaseURL,
		Token:    cfg.WorkspaceToken,
		Version:  cfg.WorkspaceVersion,
		PageSize: cfg.SyncPageSize,
	}, httpClient, clock, pacer, logger)

	resolver := matching.NewResolver(cfg.MatchFuzzyThreshold, logger)

	var producer *kafka.Producer
	if cfg.KafkaEventsEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTenantEventsTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
		}, logger)
	}
	emitter := events.NewEmitter(producer, logger)

	engine := syncer.NewEngine(syncer.Config{
		CollectionID: cfg.WorkspaceClientsCollectionID,
		MaxSyncAge:   cfg.HealthMaxSyncAge,
	}, tenantRepo, source, resolver, pacer, emitter, historyRepo, logger)

	sched := scheduler.NewScheduler(engine, scheduler.Config{
		IncrementalInterval: cfg.SyncIncrementalInterval,
		FullInterval:        cfg.SyncFullInterval,
	}, logger)

	checker := health.NewChecker(sqlxDB, engine, version)
	e := buildServer(cfg, logger, engine, historyRepo, tenantRepo, source, checker)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	manager := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	manager.AddDependency(&dependency{
		name: "database",
		start: func(ctx context.Context) error {
			return sqlxDB.PingContext(ctx)
		},
		stop: func(ctx context.Context) error {
			return sqlxDB.Close()
		},
	})
	manager.AddDependency(&dependency{
		name:      "migrations",
		dependsOn: []string{"database"},
		start: func(ctx context.Context) error {
			driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
			if err != nil {
				return err
			}
			return migrationService.Migrate(cfg.DatabaseName, driver)
		},
	})
	if producer != nil {
		manager.AddDependency(&dependency{
			name: "kafka",
			stop: func(ctx context.Context) error {
				return producer.Close()
			},
		})
	}
	if cfg.SchedulerEnabled {
		manager.AddDependency(&dependency{
			name:      "scheduler",
			dependsOn: []string{"database", "migrations"},
			start:     sched.Start,
			stop:      sched.Stop,
		})
	}
	manager.AddDependency(&dependency{
		name:      "http",
		dependsOn: []string{"migrations"},
		start: func(ctx context.Context) error {
			go func() {
				if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("HTTP server stopped unexpectedly")
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})

	if err := manager.Start(ctx); err != nil {
		zapLogger.Fatal("startup failed", zap.Error(err))
	}
	checker.SetReady(true)
	logger.WithFields(map[string]any{
		"port":    cfg.Port,
		"version": version,
	}).Infof("%s started", cfg.AppName)

	<-ctx.Done()

	checker.SetReady(false)
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to flush traces")
	}
}

// dependency adapts closures to the startup interface. A nil start or stop
// is a no-op.
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string {
	return d.name
}

func (d *dependency) DependsOn() []string {
	return d.dependsOn
}

func (d *dependency) Start(ctx context.Context) error {
	if d.start == nil {
		return nil
	}
	return d.start(ctx)
}

func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

func buildZapLogger(cfg config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", version),
	)

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEnabled {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		exporter = otlpExporter
	} else {
		exporter = &exporters.ConsoleExporter{}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return provider.Shutdown, nil
}

func openDatabase(cfg config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	db, err := sqlx.Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	return db, nil
}

func buildServer(
	cfg config.Config,
	logger ectologger.Logger,
	engine *syncer.Engine,
	historyRepo *synchistory.Repository,
	tenantRepo *tenant.Repository,
	source *workspace.Client,
	checker *health.Checker,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(
		otelecho.Middleware(cfg.AppName),
		middleware.Context(),
		middleware.Logger(logger),
		echomiddleware.Recover(),
		echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: cfg.AllowMethods,
		}),
	)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	webhook.NewHandler(webhook.Config{
		Secret:       cfg.WebhookSecret,
		CollectionID: cfg.WorkspaceClientsCollectionID,
	}, engine, source, expressions.NewEvaluator(), logger).RegisterRoutes(api)
	admin.NewHandler(engine, historyRepo, tenantRepo, logger).RegisterRoutes(api)

	return e
}

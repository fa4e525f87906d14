package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/sweep"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	depTracing  = "tracing"
	depDatabase = "database"
	depCatalog  = "catalog"
	depKafka    = "kafka"
	depGraph    = "graph"
	depRedis    = "redis"
)

// App is the wired process: config, logger, catalog service and whichever
// optional backends the config enables.
type App struct {
	Config  *config.Config
	Logger  ectologger.Logger
	Service *governance.Service

	db        database.DB
	store     catalog.Store
	producer  *kafka.Producer
	graph     *graph.Client
	redis     *redis.Client
	locker    *redis.Locker
	startup   *startup.Startup
	zapLogger *zap.Logger
}

// NewLogger builds the zap-backed ectologger. PrettyLogs selects the
// development encoder.
func NewLogger(cfg *config.Config) (ectologger.Logger, *zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	zl, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zl, nil), zl, nil
}

// bootstrap loads config and starts every enabled dependency through startup.
// Tests short-circuit it by setting RootOptions.app.
func bootstrap(ctx context.Context, opts *RootOptions) (*App, error) {
	if opts.app != nil {
		return opts.app, nil
	}

	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, zl, err := NewLogger(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		zapLogger: zl,
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
	app.register()

	if err := app.startup.Start(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, WrapExitError(ExitCommandError, "failed to start dependencies", err)
	}
	return app, nil
}

func (a *App) register() {
	cfg := a.Config

	if cfg.TracingEnabled {
		var shutdown func(context.Context) error
		a.startup.AddDependency(&startup.Dependency{
			Name: depTracing,
			StartFn: func(ctx context.Context) error {
				var err error
				shutdown, err = tracing.Setup(ctx, cfg.AppName, tracing.OTLPConfig{
					Endpoint: cfg.TracingEndpoint,
					Protocol: cfg.TracingProtocol,
					Insecure: cfg.TracingInsecure,
					Timeout:  cfg.TracingTimeout,
				})
				return err
			},
			StopFn: func(ctx context.Context) error {
				if shutdown == nil {
					return nil
				}
				return shutdown(ctx)
			},
		})
	}

	catalogRequires := []string{}
	if cfg.StoreDriver == "postgres" {
		catalogRequires = append(catalogRequires, depDatabase)
		a.startup.AddDependency(&startup.Dependency{
			Name:    depDatabase,
			StartFn: a.startDatabase,
			StopFn: func(context.Context) error {
				if a.db == nil {
					return nil
				}
				return a.db.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		catalogRequires = append(catalogRequires, depKafka)
		a.startup.AddDependency(&startup.Dependency{
			Name: depKafka,
			StartFn: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, a.Logger)
				return nil
			},
			StopFn: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
	}

	if cfg.GraphDBEnabled {
		catalogRequires = append(catalogRequires, depGraph)
		a.startup.AddDependency(&startup.Dependency{
			Name: depGraph,
			StartFn: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, a.Logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.graph = client
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if a.graph == nil {
					return nil
				}
				return a.graph.Close(ctx)
			},
		})
	}

	if cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Dependency{
			Name: depRedis,
			StartFn: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.Logger)
				if err != nil {
					return err
				}
				a.redis = client
				a.locker = redis.NewLocker(client, "")
				return nil
			},
			StopFn: func(context.Context) error {
				if a.redis == nil {
					return nil
				}
				return a.redis.Close()
			},
		})
	}

	a.startup.AddDependency(&startup.Dependency{
		Name:     depCatalog,
		Requires: catalogRequires,
		StartFn: func(ctx context.Context) error {
			a.buildService()
			return a.Service.Ping(ctx)
		},
	})
}

func (a *App) startDatabase(ctx context.Context) error {
	cfg := a.Config
	sqlDB, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db := database.NewDatabaseInstance(sqlDB, a.Logger)
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	a.db = db

	if cfg.DatabaseMigrateOnStart {
		if err := a.migrate(); err != nil {
			_ = db.Close()
			a.db = nil
			return err
		}
	}
	return nil
}

func (a *App) migrate() error {
	if a.db == nil {
		return fmt.Errorf("migrations require STORE_DRIVER=postgres")
	}
	cfg := a.Config
	ms := database.NewMigrationService(a.Logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             cfg.DatabaseMigrationVersion,
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return ms.MigratePostgres(a.db, cfg.DatabaseName)
}

func (a *App) buildService() {
	cfg := a.Config
	if a.db != nil {
		a.store = catalog.NewPostgresStore(a.db, a.Logger, catalog.PostgresConfig{
			TxTimeout:   cfg.TxTimeout,
			LockTimeout: cfg.LockTimeout,
		})
	} else {
		a.store = catalog.NewMemoryStore(catalog.WithTxTimeout(cfg.TxTimeout))
	}

	var emitter *events.Emitter
	if a.producer != nil {
		emitter = events.NewEmitter(a.producer, a.Logger)
	}
	var projector *graph.Projector
	if a.graph != nil {
		projector = graph.NewProjector(a.graph, a.Logger)
	}

	a.Service = governance.NewService(a.store, governance.Options{
		ResolverMaxDepth:       cfg.ResolverMaxDepth,
		NearDuplicateThreshold: cfg.NearDuplicateThreshold,
		UnfreezePhrasePrefix:   cfg.UnfreezePhrasePrefix,
	}, emitter, projector, a.Logger)
}

// HealthChecks returns the pingers for /api/v1/health.
func (a *App) HealthChecks() map[string]health.Pinger {
	checks := map[string]health.Pinger{
		"database": a.Service,
	}
	if a.graph != nil {
		checks["graph"] = health.PingFunc(a.graph.VerifyConnectivity)
	}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	return checks
}

// NewSweeper builds a drift sweeper over the service, locking through redis
// when it is enabled.
func (a *App) NewSweeper(cfg sweep.Config) *sweep.Sweeper {
	var locker sweep.Locker
	if a.locker != nil {
		locker = a.locker
	}
	return sweep.NewSweeper(a.Service, locker, cfg, a.Logger)
}

// Close stops dependencies in reverse start order and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.startup != nil {
		err = a.startup.Stop(ctx)
	}
	if a.zapLogger != nil {
		_ = a.zapLogger.Sync()
	}
	return err
}

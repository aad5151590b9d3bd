// internal/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	router "payout-ledger/internal/api"
	"payout-ledger/internal/api/handler"
	"payout-ledger/internal/config"
	"payout-ledger/internal/gateway"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/repository/memory"
	"payout-ledger/internal/repository/postgres"
	"payout-ledger/internal/service"
	"payout-ledger/internal/util"
	"payout-ledger/internal/worker"
	"payout-ledger/pkg/db"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *zap.Logger
	DB     *sqlx.DB      // set for the postgres driver
	Store  *memory.Store // set for the memory driver
	Redis  *redis.Client
	Kafka  *kafka.Writer

	// Services
	Ledger       service.LedgerService
	Reservations service.ReservationService
	Verifier     service.VerificationPipeline
	Payouts      service.PayoutService
	Reconciler   service.MovementReconciler

	Workers *worker.Runner

	// HTTP API
	HTTPHandler http.Handler
}

// repositories is one backend's full set of repositories.
type repositories struct {
	executor     repository.DBExecutor
	transactor   db.Transactor
	wallets      repository.WalletRepository
	transactions repository.TransactionRepository
	reservations repository.ReservationRepository
	goals        repository.SavingsGoalRepository
	preferences  repository.PreferenceRepository
	circles      repository.CircleRepository
	executions   repository.ExecutionRepository
	movements    repository.MovementRepository
	registry     repository.RegistryRepository
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration and the logger, then builds every component.
func (app *Application) Initialize(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := util.InitLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("application configuration loaded", zap.String("store", cfg.Store.Driver))
	return app.Build(ctx, cfg, logger)
}

// Build wires storage, gateways, services, workers and the HTTP router from cfg.
func (app *Application) Build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	app.Config = cfg
	app.Logger = logger

	repos, err := app.openStorage(cfg)
	if err != nil {
		return err
	}

	notifier, ops, engagement, err := app.openStreams(ctx, cfg)
	if err != nil {
		return err
	}
	rail := app.openRail(cfg)
	registry := gateway.NewRegistryAdapter(repos.registry, repos.executor, cfg.Payout.FBOAccountID)

	retry := service.RetryPolicy{
		MaxAttempts:    cfg.Ledger.RetryMaxAttempts,
		InitialBackoff: cfg.Ledger.RetryInitialBackoff,
		MaxBackoff:     cfg.Ledger.RetryMaxBackoff,
	}

	app.Ledger = service.NewLedgerService(repos.executor, repos.transactor, repos.wallets, repos.transactions,
		repos.reservations, repos.goals, retry, cfg.Payout.Currency, logger)
	app.Reservations = service.NewReservationService(repos.executor, repos.transactor, app.Ledger, repos.wallets,
		repos.reservations, repos.circles, notifier, service.ReservationConfig{
			Horizon:     cfg.Reservation.Horizon,
			ExpiryGrace: cfg.Reservation.ExpiryGrace,
			BatchSize:   cfg.Reconciler.BatchSize,
		}, retry, logger)
	app.Verifier = service.NewVerificationPipeline(repos.executor, repos.transactor, repos.circles, repos.wallets,
		repos.executions, registry, registry, registry, registry,
		service.VerificationConfig{AmountTolerancePct: cfg.Payout.AmountTolerancePct}, logger)
	app.Payouts = service.NewPayoutService(service.PayoutDeps{
		DB:           repos.executor,
		Transactor:   repos.transactor,
		Ledger:       app.Ledger,
		Verifier:     app.Verifier,
		Planner:      service.NewDistributionPlanner(),
		Circles:      repos.circles,
		Executions:   repos.executions,
		Movements:    repos.movements,
		Preferences:  repos.preferences,
		Goals:        repos.goals,
		Reservations: repos.reservations,
		Wallets:      repos.wallets,
		Remittance:   registry,
		Notifier:     notifier,
		OpsQueue:     ops,
		Engagement:   engagement,
		Retry:        retry,
		Logger:       logger,
	}, service.PayoutConfig{
		PlatformFeeBps:       cfg.Payout.PlatformFeeBps,
		ExecutionTimeout:     cfg.Payout.ExecutionTimeout,
		MaxRetries:           cfg.Payout.MaxRetries,
		RetryBaseDelay:       cfg.Payout.RetryBaseDelay,
		PlatformWalletUserID: cfg.Payout.PlatformWalletUserID,
		SuggestionHorizon:    cfg.Payout.SuggestionHorizon,
		BatchSize:            cfg.Reconciler.BatchSize,
	})
	app.Reconciler = service.NewMovementReconciler(repos.executor, repos.transactor, app.Ledger, repos.movements,
		repos.wallets, rail, notifier, service.ReconcilerConfig{
			BatchSize:   cfg.Reconciler.BatchSize,
			MaxAttempts: cfg.Reconciler.MaxAttempts,
			BaseDelay:   cfg.Reconciler.BaseDelay,
		}, retry, logger)
	logger.Info("services initialized")

	if cfg.Workers.Enabled {
		app.Workers = worker.NewRunner(worker.StandardJobs(app.Reconciler, app.Payouts, app.Reservations, worker.Intervals{
			Reconciler:       cfg.Reconciler.PollInterval,
			PayoutRetry:      cfg.Workers.PayoutRetryInterval,
			ReservationSweep: cfg.Workers.ReservationSweepInterval,
		}, nil), cfg.Workers.JobTimeout, logger.Named("worker"))
	}

	app.HTTPHandler = router.NewRouter(router.Handlers{
		Wallets:      handler.NewWalletHandler(app.Ledger, logger),
		Payouts:      handler.NewPayoutHandler(app.Payouts, logger),
		Reservations: handler.NewReservationHandler(app.Reservations, logger),
		Movements:    handler.NewMovementHandler(app.Reconciler, logger),
	}, logger.Named("http"))
	logger.Info("HTTP router and handlers initialized")
	return nil
}

func (app *Application) openStorage(cfg *config.AppConfig) (repositories, error) {
	if cfg.Store.Driver == "memory" {
		store := memory.NewStore()
		app.Store = store
		app.Logger.Warn("using in-memory store, data is lost on restart")
		return repositories{
			executor:     store,
			transactor:   store.Transactor(app.Logger),
			wallets:      store.Wallets(),
			transactions: store.Transactions(),
			reservations: store.Reservations(),
			goals:        store.SavingsGoals(),
			preferences:  store.Preferences(),
			circles:      store.Circles(),
			executions:   store.Executions(),
			movements:    store.Movements(),
			registry:     store.Registry(),
		}, nil
	}

	database, err := db.NewPostgresDB(cfg.DB)
	if err != nil {
		return repositories{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = database
	app.Logger.Info("database connection established")

	if cfg.Store.AutoMigrate {
		m, err := db.NewMigrator(database.DB, app.Logger)
		if err != nil {
			return repositories{}, err
		}
		if err := m.Up(); err != nil {
			return repositories{}, err
		}
	}

	return repositories{
		executor:     database,
		transactor:   db.NewSQLXTransactor(database, app.Logger),
		wallets:      postgres.NewWalletRepository(),
		transactions: postgres.NewTransactionRepository(),
		reservations: postgres.NewReservationRepository(),
		goals:        postgres.NewSavingsGoalRepository(),
		preferences:  postgres.NewPreferenceRepository(),
		circles:      postgres.NewCircleRepository(),
		executions:   postgres.NewExecutionRepository(),
		movements:    postgres.NewMovementRepository(),
		registry:     postgres.NewRegistryRepository(),
	}, nil
}

func (app *Application) openStreams(ctx context.Context, cfg *config.AppConfig) (service.Notifier, service.OpsQueue, service.EngagementPublisher, error) {
	if !cfg.Redis.Enabled {
		sink := gateway.NewLogSink(app.Logger.Named("events"))
		return sink, sink, sink, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	app.Redis = client
	app.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))

	pub := gateway.NewStreamPublisher(client, gateway.StreamNames{
		Notifications: cfg.Redis.NotificationStream,
		OpsReview:     cfg.Redis.OpsReviewStream,
		Engagement:    cfg.Redis.EngagementStream,
	}, cfg.Redis.StreamMaxLen, app.Logger.Named("streams"))
	return pub, pub, pub, nil
}

func (app *Application) openRail(cfg *config.AppConfig) service.BankRail {
	if !cfg.Kafka.Enabled {
		return gateway.NewLogRail(app.Logger.Named("bank_rail"))
	}
	app.Kafka = gateway.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.BankTransferTopic, cfg.Kafka.WriteTimeout, app.Logger)
	return gateway.NewKafkaBankRail(app.Kafka, app.Logger.Named("bank_rail"))
}

// Start launches the background workers, when enabled.
func (app *Application) Start(ctx context.Context) error {
	if app.Workers == nil {
		return nil
	}
	return app.Workers.Start(ctx)
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("shutting down application")
	var errs []error
	if app.Workers != nil {
		if err := app.Workers.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop workers: %w", err))
		}
	}
	if app.Kafka != nil {
		if err := app.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database connection: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		app.Logger.Error("application shutdown incomplete", zap.Error(err))
		return err
	}
	app.Logger.Info("application shut down gracefully")
	return nil
}

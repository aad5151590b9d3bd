// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"payout-ledger/pkg/db"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	// Env is "development", "test" or "production".
	Env         string
	Server      ServerConfig
	DB          db.Config
	Store       StoreConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Log         LogConfig
	Ledger      LedgerConfig
	Reservation ReservationConfig
	Payout      PayoutConfig
	Reconciler  ReconcilerConfig
	Workers     WorkersConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the repository backend: "postgres" or "memory". The memory
// backend serializes every write behind one lock and keeps nothing across
// restarts, so it is refused when Env is production.
type StoreConfig struct {
	Driver      string
	AutoMigrate bool
}

type RedisConfig struct {
	Enabled            bool
	Addr               string
	Password           string
	DB                 int
	NotificationStream string
	OpsReviewStream    string
	EngagementStream   string
	StreamMaxLen       int64
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	BankTransferTopic string
	WriteTimeout      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig bounds retries of wallet mutations that lost a lock race.
type LedgerConfig struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

type ReservationConfig struct {
	Horizon     time.Duration
	ExpiryGrace time.Duration
}

type PayoutConfig struct {
	PlatformFeeBps       int64
	AmountTolerancePct   int64
	ExecutionTimeout     time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
	PlatformWalletUserID uuid.UUID
	FBOAccountID         string
	SuggestionHorizon    time.Duration
	Currency             string
}

type ReconcilerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
}

type WorkersConfig struct {
	Enabled                  bool
	JobTimeout               time.Duration
	PayoutRetryInterval      time.Duration
	ReservationSweepInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "user")
	v.SetDefault("db.password", "password")
	v.SetDefault("db.name", "payoutdb")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", "5m")
	v.SetDefault("db.lock_timeout", "3s")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.notification_stream", "payout:notifications")
	v.SetDefault("redis.ops_review_stream", "payout:ops_review")
	v.SetDefault("redis.engagement_stream", "payout:engagement")
	v.SetDefault("redis.stream_max_len", 100000)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.bank_transfer_topic", "bank.transfer.requested")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ledger.retry_max_attempts", 5)
	v.SetDefault("ledger.retry_initial_backoff", "20ms")
	v.SetDefault("ledger.retry_max_backoff", "1s")

	v.SetDefault("reservation.horizon", "336h")
	v.SetDefault("reservation.expiry_grace", "72h")

	v.SetDefault("payout.platform_fee_bps", 0)
	v.SetDefault("payout.amount_tolerance_pct", 10)
	v.SetDefault("payout.execution_timeout", "30s")
	v.SetDefault("payout.max_retries", 5)
	v.SetDefault("payout.retry_base_delay", "30s")
	v.SetDefault("payout.platform_wallet_user_id", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("payout.fbo_account_id", "fbo-main")
	v.SetDefault("payout.suggestion_horizon", "720h")
	v.SetDefault("payout.currency", "USD")

	v.SetDefault("reconciler.poll_interval", "5s")
	v.SetDefault("reconciler.batch_size", 50)
	v.SetDefault("reconciler.max_attempts", 8)
	v.SetDefault("reconciler.base_delay", "10s")

	v.SetDefault("workers.enabled", true)
	v.SetDefault("workers.job_timeout", "1m")
	v.SetDefault("workers.payout_retry_interval", "30s")
	v.SetDefault("workers.reservation_sweep_interval", "1h")
}

// LoadConfig loads configuration. Priority, highest first: PAYOUT_* environment
// variables (a local .env is loaded into the environment first), config.yaml,
// built-in defaults.
func LoadConfig() (*AppConfig, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/payout-ledger")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PAYOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	platformUser, err := uuid.Parse(v.GetString("payout.platform_wallet_user_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid payout.platform_wallet_user_id: %w", err)
	}

	cfg := &AppConfig{
		Env: strings.ToLower(v.GetString("env")),
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		DB: db.Config{
			Host:            v.GetString("db.host"),
			Port:            v.GetInt("db.port"),
			User:            v.GetString("db.user"),
			Password:        v.GetString("db.password"),
			DBName:          v.GetString("db.name"),
			SSLMode:         v.GetString("db.sslmode"),
			MaxOpenConns:    v.GetInt("db.max_open_conns"),
			MaxIdleConns:    v.GetInt("db.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db.conn_max_lifetime"),
			LockTimeout:     v.GetDuration("db.lock_timeout"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			AutoMigrate: v.GetBool("store.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:            v.GetBool("redis.enabled"),
			Addr:               v.GetString("redis.addr"),
			Password:           v.GetString("redis.password"),
			DB:                 v.GetInt("redis.db"),
			NotificationStream: v.GetString("redis.notification_stream"),
			OpsReviewStream:    v.GetString("redis.ops_review_stream"),
			EngagementStream:   v.GetString("redis.engagement_stream"),
			StreamMaxLen:       v.GetInt64("redis.stream_max_len"),
		},
		Kafka: KafkaConfig{
			Enabled:           v.GetBool("kafka.enabled"),
			Brokers:           v.GetStringSlice("kafka.brokers"),
			BankTransferTopic: v.GetString("kafka.bank_transfer_topic"),
			WriteTimeout:      v.GetDuration("kafka.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Ledger: LedgerConfig{
			RetryMaxAttempts:    v.GetInt("ledger.retry_max_attempts"),
			RetryInitialBackoff: v.GetDuration("ledger.retry_initial_backoff"),
			RetryMaxBackoff:     v.GetDuration("ledger.retry_max_backoff"),
		},
		Reservation: ReservationConfig{
			Horizon:     v.GetDuration("reservation.horizon"),
			ExpiryGrace: v.GetDuration("reservation.expiry_grace"),
		},
		Payout: PayoutConfig{
			PlatformFeeBps:       v.GetInt64("payout.platform_fee_bps"),
			AmountTolerancePct:   v.GetInt64("payout.amount_tolerance_pct"),
			ExecutionTimeout:     v.GetDuration("payout.execution_timeout"),
			MaxRetries:           v.GetInt("payout.max_retries"),
			RetryBaseDelay:       v.GetDuration("payout.retry_base_delay"),
			PlatformWalletUserID: platformUser,
			FBOAccountID:         v.GetString("payout.fbo_account_id"),
			SuggestionHorizon:    v.GetDuration("payout.suggestion_horizon"),
			Currency:             v.GetString("payout.currency"),
		},
		Reconciler: ReconcilerConfig{
			PollInterval: v.GetDuration("reconciler.poll_interval"),
			BatchSize:    v.GetInt("reconciler.batch_size"),
			MaxAttempts:  v.GetInt("reconciler.max_attempts"),
			BaseDelay:    v.GetDuration("reconciler.base_delay"),
		},
		Workers: WorkersConfig{
			Enabled:                  v.GetBool("workers.enabled"),
			JobTimeout:               v.GetDuration("workers.job_timeout"),
			PayoutRetryInterval:      v.GetDuration("workers.payout_retry_interval"),
			ReservationSweepInterval: v.GetDuration("workers.reservation_sweep_interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Env {
	case "development", "test", "production":
	default:
		return fmt.Errorf("invalid env %q: must be development, test or production", c.Env)
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid store.driver %q: must be postgres or memory", c.Store.Driver)
	}
	if c.Store.Driver == "memory" && c.Env == "production" {
		return fmt.Errorf("store.driver memory is for development and tests only")
	}
	if c.Payout.PlatformFeeBps < 0 || c.Payout.PlatformFeeBps >= 10000 {
		return fmt.Errorf("invalid payout.platform_fee_bps %d: must be in [0, 10000)", c.Payout.PlatformFeeBps)
	}
	if c.Payout.AmountTolerancePct < 0 || c.Payout.AmountTolerancePct > 100 {
		return fmt.Errorf("invalid payout.amount_tolerance_pct %d", c.Payout.AmountTolerancePct)
	}
	if c.Payout.MaxRetries < 1 {
		return fmt.Errorf("payout.max_retries must be at least 1")
	}
	if c.Payout.ExecutionTimeout <= 0 || c.Payout.RetryBaseDelay <= 0 {
		return fmt.Errorf("payout.execution_timeout and payout.retry_base_delay must be positive")
	}
	if c.Ledger.RetryMaxAttempts < 1 {
		return fmt.Errorf("ledger.retry_max_attempts must be at least 1")
	}
	if c.Reservation.Horizon <= 0 {
		return fmt.Errorf("reservation.horizon must be positive")
	}
	if c.Reconciler.BatchSize <= 0 || c.Reconciler.MaxAttempts <= 0 || c.Reconciler.PollInterval <= 0 {
		return fmt.Errorf("reconciler batch_size, max_attempts and poll_interval must be positive")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.BankTransferTopic == "") {
		return fmt.Errorf("kafka.enabled requires brokers and bank_transfer_topic")
	}
	return nil
}

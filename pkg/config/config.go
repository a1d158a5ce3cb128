package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	Sheets       SheetsConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Meta         MetaConfig
	Optimizer    OptimizerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ADPILOT_APP_ENV" required:"true"`
	Port         string `envconfig:"ADPILOT_APP_PORT" required:"true"`
	MetricsPort  string `envconfig:"ADPILOT_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"ADPILOT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ADPILOT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ADPILOT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ADPILOT_DB_DSN"`
	Driver string `envconfig:"ADPILOT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ADPILOT_DB_HOST"`
	LegacyPort     int    `envconfig:"ADPILOT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ADPILOT_DB_USER"`
	LegacyPassword string `envconfig:"ADPILOT_DB_PASSWORD"`
	LegacyName     string `envconfig:"ADPILOT_DB_NAME"`
	LegacySSLMode  string `envconfig:"ADPILOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ADPILOT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ADPILOT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ADPILOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ADPILOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ADPILOT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ADPILOT_REDIS_ADDR"`
	Password     string        `envconfig:"ADPILOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"ADPILOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ADPILOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ADPILOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ADPILOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ADPILOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ADPILOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type AuthConfig struct {
	OperatorToken string `envconfig:"ADPILOT_OPERATOR_TOKEN" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ADPILOT_AUTO_MIGRATE" default:"false"`
	// ForceDryRun is the kill switch: every run behaves as dry-run while set.
	ForceDryRun bool `envconfig:"ADPILOT_FORCE_DRY_RUN" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ADPILOT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ADPILOT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ADPILOT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type SheetsConfig struct {
	ReadTimeout time.Duration `envconfig:"ADPILOT_SHEETS_READ_TIMEOUT" default:"30s"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"ADPILOT_PUBSUB_NOTIFICATION_TOPIC" default:"adpilot-notification-events"`
}

type BigQueryConfig struct {
	Dataset        string `envconfig:"ADPILOT_BIGQUERY_DATASET" default:"adpilot"`
	DecisionsTable string `envconfig:"ADPILOT_BIGQUERY_DECISIONS_TABLE" default:"budget_decisions"`
}

type MetaConfig struct {
	BaseURL    string        `envconfig:"ADPILOT_META_BASE_URL" default:"https://graph.facebook.com"`
	APIVersion string        `envconfig:"ADPILOT_META_API_VERSION" default:"v21.0"`
	Timeout    time.Duration `envconfig:"ADPILOT_META_TIMEOUT" default:"30s"`
	// AccessToken is the fallback system-user token, used when an advertiser
	// row carries no token of its own.
	AccessToken string `envconfig:"ADPILOT_META_ACCESS_TOKEN"`
}

// OptimizerConfig carries the decision-policy tunables. The defaults are the
// production values; tests override them per case.
type OptimizerConfig struct {
	Schedule       string `envconfig:"ADPILOT_OPTIMIZER_SCHEDULE" default:"0 1-19 * * *"`
	FirstRoundHour int    `envconfig:"ADPILOT_OPTIMIZER_FIRST_ROUND_HOUR" default:"1"`

	BaseTierCeiling float64 `envconfig:"ADPILOT_OPTIMIZER_BASE_TIER_CEILING" default:"8000"`
	MidTierCeiling  float64 `envconfig:"ADPILOT_OPTIMIZER_MID_TIER_CEILING" default:"20000"`
	HardCeiling     float64 `envconfig:"ADPILOT_OPTIMIZER_HARD_CEILING" default:"40000"`
	IncreaseFactor  float64 `envconfig:"ADPILOT_OPTIMIZER_INCREASE_FACTOR" default:"1.3"`
	ReduceFactor    float64 `envconfig:"ADPILOT_OPTIMIZER_REDUCE_FACTOR" default:"0.7"`
	MinDailyBudget  float64 `envconfig:"ADPILOT_OPTIMIZER_MIN_DAILY_BUDGET" default:"100"`

	NewCreativeImpressions int64 `envconfig:"ADPILOT_OPTIMIZER_NEW_CREATIVE_IMPRESSIONS" default:"5000"`

	LockTTL               time.Duration `envconfig:"ADPILOT_OPTIMIZER_LOCK_TTL" default:"20m"`
	CacheTTL              time.Duration `envconfig:"ADPILOT_OPTIMIZER_CACHE_TTL" default:"5m"`
	SweepConcurrency      int           `envconfig:"ADPILOT_OPTIMIZER_SWEEP_CONCURRENCY" default:"4"`
	SnapshotRetentionDays int           `envconfig:"ADPILOT_OPTIMIZER_SNAPSHOT_RETENTION_DAYS" default:"730"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

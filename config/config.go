// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Generator     GeneratorConfig
	Resolver      ResolverConfig
	Rewards       RewardsConfig
	Engagement    EngagementConfig
	HTTP          HTTPConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig

	Features *FeatureFlags
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `validate:"required"`
	Environment Environment `validate:"oneof=development staging production"`
	Version     string

	// Timezone defines calendar days for streaks and the daily jobs.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// DatabaseConfig selects and configures the source of truth.
type DatabaseConfig struct {
	Driver string `validate:"oneof=sqlite postgres"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string

	// URL is the PostgreSQL connection string for the postgres driver.
	URL string

	MaxConns        int32 `validate:"gte=1"`
	MinConns        int32 `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// MigrateOnStart applies pending migrations at startup.
	MigrateOnStart bool
}

// RedisConfig holds Redis connection settings. Redis backs the balance and
// section caches and the cross-instance event fan-out.
type RedisConfig struct {
	Host     string
	Port     int `validate:"gte=1,lte=65535"`
	Password string
	DB       int `validate:"gte=0"`

	PoolSize     int `validate:"gte=1"`
	MinIdleConns int `validate:"gte=0"`

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	BalanceTTL time.Duration `validate:"gt=0"`
	SectionTTL time.Duration `validate:"gt=0"`

	// Disabled runs without caches and with in-process events only.
	Disabled bool
}

// GeneratorConfig configures the OpenAI-compatible content generator.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string `validate:"required"`
	ImageModel  string
	ImageSize   string
	MaxTokens   int     `validate:"gte=64"`
	Temperature float32 `validate:"gte=0,lte=2"`

	RequestsPerSecond float64 `validate:"gte=0"`
	Burst             int     `validate:"gte=1"`
	HTTPTimeout       time.Duration

	BreakerThreshold int `validate:"gte=1"`
	BreakerTimeout   time.Duration
}

// Enabled reports whether a generator is configured. Without one every miss
// is served as fallback content.
func (g GeneratorConfig) Enabled() bool {
	return g.APIKey != ""
}

// ResolverConfig configures the section cache resolver.
type ResolverConfig struct {
	GenerationTimeout   time.Duration `validate:"gt=0"`
	IllustrationTimeout time.Duration `validate:"gt=0"`

	// FallbackTTL expires remembered fallbacks; zero keeps them until
	// regeneration.
	FallbackTTL time.Duration `validate:"gte=0"`

	// FallbackMemoSize caps how many fallbacks one process remembers.
	FallbackMemoSize int `validate:"gt=0"`
}

// RewardsConfig is the spark amount of each effective transition.
type RewardsConfig struct {
	Section     int64
	Quiz        int64
	Certificate int64
	StreakBonus int64
}

// EngagementConfig configures streaks and celebrations.
type EngagementConfig struct {
	// FreezeDefault is the freeze setting given to new streaks when the
	// streak freeze feature is not rolled out per child.
	FreezeDefault bool

	CelebrationCooldown time.Duration `validate:"gt=0"`

	// DedupeWindow is how many recent event IDs each stream remembers.
	DedupeWindow int `validate:"gte=1"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr           string `validate:"required"`
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	StreamPing     time.Duration `validate:"gt=0"`

	// RequestsPerSec limits requests per client IP; zero disables the limit.
	RequestsPerSec float64 `validate:"gte=0"`
	RequestBurst   int     `validate:"gte=1"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled bool

	TickInterval time.Duration `validate:"gt=0"`
	JobTimeout   time.Duration

	// Reconciliation runs daily at ReconcileHour:ReconcileMinute and covers
	// children active within ReconcileLookback.
	ReconcileHour     int `validate:"gte=0,lte=23"`
	ReconcileMinute   int `validate:"gte=0,lte=59"`
	ReconcileLookback time.Duration `validate:"gt=0"`

	CelebrationFlushInterval time.Duration `validate:"gt=0"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=json text"`

	MetricsEnabled bool
	MetricsPath    string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadAppConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Generator:     loadGeneratorConfig(),
		Resolver:      loadResolverConfig(),
		Rewards:       loadRewardsConfig(),
		Engagement:    loadEngagementConfig(),
		HTTP:          loadHTTPConfig(),
		Scheduler:     loadSchedulerConfig(),
		Observability: loadObservabilityConfig(),
		Features:      LoadFeatureFlags(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAppConfig() AppConfig {
	timezone := getEnv("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "sparkquest-hub"),
		Environment:     Environment(getEnv("APP_ENV", string(EnvDevelopment))),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 20*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		user := getEnv("DB_USER", "")
		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, getEnv("DB_PASSWORD", ""), host,
				getEnv("DB_PORT", "5432"), getEnv("DB_NAME", "sparkquest"), getEnv("DB_SSLMODE", "disable"))
		}
	}

	driver := getEnv("DB_DRIVER", "")
	if driver == "" {
		driver = DriverSQLite
		if url != "" {
			driver = DriverPostgres
		}
	}

	return DatabaseConfig{
		Driver:          driver,
		SQLitePath:      getEnv("SQLITE_PATH", "data/sparkquest.db"),
		URL:             url,
		MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 10)),
		MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		MigrateOnStart:  getEnvBool("DB_MIGRATE_ON_START", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		BalanceTTL:   getEnvDuration("REDIS_BALANCE_TTL", 24*time.Hour),
		SectionTTL:   getEnvDuration("REDIS_SECTION_TTL", 7*24*time.Hour),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		APIKey:            getEnv("OPENAI_API_KEY", ""),
		BaseURL:           getEnv("OPENAI_BASE_URL", ""),
		Model:             getEnv("GENERATOR_MODEL", "gpt-4o-mini"),
		ImageModel:        getEnv("GENERATOR_IMAGE_MODEL", "dall-e-3"),
		ImageSize:         getEnv("GENERATOR_IMAGE_SIZE", "1024x1024"),
		MaxTokens:         getEnvInt("GENERATOR_MAX_TOKENS", 900),
		Temperature:       float32(getEnvFloat("GENERATOR_TEMPERATURE", 0.7)),
		RequestsPerSecond: getEnvFloat("GENERATOR_RPS", 2),
		Burst:             getEnvInt("GENERATOR_BURST", 4),
		HTTPTimeout:       getEnvDuration("GENERATOR_HTTP_TIMEOUT", 60*time.Second),
		BreakerThreshold:  getEnvInt("GENERATOR_CB_THRESHOLD", 5),
		BreakerTimeout:    getEnvDuration("GENERATOR_CB_TIMEOUT", 30*time.Second),
	}
}

func loadResolverConfig() ResolverConfig {
	return ResolverConfig{
		GenerationTimeout:   getEnvDuration("RESOLVER_GENERATION_TIMEOUT", 20*time.Second),
		IllustrationTimeout: getEnvDuration("RESOLVER_ILLUSTRATION_TIMEOUT", 60*time.Second),
		FallbackTTL:         getEnvDuration("RESOLVER_FALLBACK_TTL", 0),
		FallbackMemoSize:    getEnvInt("RESOLVER_FALLBACK_MEMO_SIZE", 1024),
	}
}

func loadRewardsConfig() RewardsConfig {
	return RewardsConfig{
		Section:     int64(getEnvInt("REWARD_SECTION", 10)),
		Quiz:        int64(getEnvInt("REWARD_QUIZ", 25)),
		Certificate: int64(getEnvInt("REWARD_CERTIFICATE", 50)),
		StreakBonus: int64(getEnvInt("REWARD_STREAK_BONUS", 5)),
	}
}

func loadEngagementConfig() EngagementConfig {
	return EngagementConfig{
		FreezeDefault:       getEnvBool("STREAK_FREEZE_DEFAULT", false),
		CelebrationCooldown: getEnvDuration("CELEBRATION_COOLDOWN", 5*time.Second),
		DedupeWindow:        getEnvInt("STREAM_DEDUPE_WINDOW", 256),
	}
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:           getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:    getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 45*time.Second),
		AllowedOrigins: getEnvStringSlice("HTTP_ALLOWED_ORIGINS", nil),
		StreamPing:     getEnvDuration("HTTP_STREAM_PING", 30*time.Second),
		RequestsPerSec: getEnvFloat("HTTP_RPS", 0),
		RequestBurst:   getEnvInt("HTTP_BURST", 20),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:                  getEnvBool("SCHEDULER_ENABLED", true),
		TickInterval:             getEnvDuration("SCHEDULER_TICK", time.Second),
		JobTimeout:               getEnvDuration("SCHEDULER_JOB_TIMEOUT", 10*time.Minute),
		ReconcileHour:            getEnvInt("SCHEDULER_RECONCILE_HOUR", 3),
		ReconcileMinute:          getEnvInt("SCHEDULER_RECONCILE_MINUTE", 0),
		ReconcileLookback:        getEnvDuration("SCHEDULER_RECONCILE_LOOKBACK", 48*time.Hour),
		CelebrationFlushInterval: getEnvDuration("SCHEDULER_CELEBRATION_FLUSH", time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field rules.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if c.Database.Driver == DriverPostgres && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required for the postgres driver")
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		errs = append(errs, "SQLITE_PATH is required for the sqlite driver")
	}
	if c.App.Environment == EnvProduction && c.Database.Driver != DriverPostgres {
		errs = append(errs, "production requires the postgres driver")
	}
	if c.Engagement.CelebrationCooldown > 0 && c.Scheduler.CelebrationFlushInterval > c.Engagement.CelebrationCooldown {
		errs = append(errs, "SCHEDULER_CELEBRATION_FLUSH must not exceed CELEBRATION_COOLDOWN")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

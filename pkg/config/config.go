package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env            string
	Port           int
	APIPrefix      string
	RequestTimeout time.Duration

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Marketplace   MarketplaceConfig
	Documents     DocumentsConfig
	Notifications NotificationsConfig
	Realtime      RealtimeConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MarketplaceConfig tunes the public listing feed.
type MarketplaceConfig struct {
	CacheTTL time.Duration
	PageSize int
}

// DocumentsConfig controls agreement PDF rendering and download links.
type DocumentsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// NotificationsConfig sizes the notification dispatch queue.
type NotificationsConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
}

// RealtimeConfig governs the server-sent event stream and its redis fan-out.
type RealtimeConfig struct {
	Enabled      bool
	RedisChannel string
	Keepalive    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.RequestTimeout = parseDuration(v.GetString("REQUEST_TIMEOUT"), 10*time.Second)

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	pageSize := v.GetInt("MARKETPLACE_PAGE_SIZE")
	if pageSize <= 0 {
		pageSize = 20
	}
	cfg.Marketplace = MarketplaceConfig{
		CacheTTL: parseDuration(v.GetString("MARKETPLACE_CACHE_TTL"), time.Minute),
		PageSize: pageSize,
	}

	cfg.Documents = DocumentsConfig{
		StorageDir:        v.GetString("DOCUMENTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 15*time.Minute),
		WorkerConcurrency: v.GetInt("DOCUMENTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("DOCUMENTS_WORKER_RETRIES"),
	}

	cfg.Notifications = NotificationsConfig{
		WorkerConcurrency: v.GetInt("NOTIFICATIONS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("NOTIFICATIONS_WORKER_RETRIES"),
	}

	cfg.Realtime = RealtimeConfig{
		Enabled:      v.GetBool("ENABLE_REALTIME"),
		RedisChannel: v.GetString("REALTIME_REDIS_CHANNEL"),
		Keepalive:    parseDuration(v.GetString("REALTIME_KEEPALIVE"), 25*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("REQUEST_TIMEOUT", "10s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "qc_validator")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MARKETPLACE_CACHE_TTL", "1m")
	v.SetDefault("MARKETPLACE_PAGE_SIZE", 20)

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "15m")
	v.SetDefault("DOCUMENTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("DOCUMENTS_WORKER_RETRIES", 3)

	v.SetDefault("NOTIFICATIONS_WORKER_CONCURRENCY", 2)
	v.SetDefault("NOTIFICATIONS_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_REALTIME", true)
	v.SetDefault("REALTIME_REDIS_CHANNEL", "qc:events")
	v.SetDefault("REALTIME_KEEPALIVE", "25s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

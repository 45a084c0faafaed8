package config

import (
	"errors"
	"fmt"
	"io/fs"
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
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Evidence EvidenceConfig
	S3       S3Config
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// Storage backends for evidence files.
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// EvidenceConfig controls evidence storage and the bulk ingestion pipeline.
type EvidenceConfig struct {
	StorageBackend   string
	StorageDir       string
	StagingDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	PreviewMaxBytes  int64
	Parallelism      int
	TransferTimeout  time.Duration
	ProgressInterval time.Duration
	BatchTTL         time.Duration
	CleanupInterval  time.Duration
	Workers          int
	SummaryCacheTTL  time.Duration
	MaxFilesPerBatch int
}

// S3Config configures the S3 compatible evidence backend.
type S3Config struct {
	Region          string
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
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
		var pathErr *fs.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	previewMax := v.GetInt64("EVIDENCE_PREVIEW_MAX_BYTES")
	if previewMax < 0 {
		previewMax = 0
	}
	cfg.Evidence = EvidenceConfig{
		StorageBackend:   strings.ToLower(strings.TrimSpace(v.GetString("EVIDENCE_STORAGE_BACKEND"))),
		StorageDir:       v.GetString("EVIDENCE_STORAGE_DIR"),
		StagingDir:       v.GetString("EVIDENCE_STAGING_DIR"),
		SignedURLSecret:  v.GetString("EVIDENCE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("EVIDENCE_SIGNED_URL_TTL"), 30*time.Minute),
		PreviewMaxBytes:  previewMax,
		Parallelism:      positiveOr(v.GetInt("EVIDENCE_PARALLELISM"), 1),
		TransferTimeout:  parseDuration(v.GetString("EVIDENCE_TRANSFER_TIMEOUT"), 5*time.Minute),
		ProgressInterval: parseDuration(v.GetString("EVIDENCE_PROGRESS_INTERVAL"), 200*time.Millisecond),
		BatchTTL:         parseDuration(v.GetString("EVIDENCE_BATCH_TTL"), 24*time.Hour),
		CleanupInterval:  parseDuration(v.GetString("EVIDENCE_CLEANUP_INTERVAL"), 10*time.Minute),
		Workers:          positiveOr(v.GetInt("EVIDENCE_WORKERS"), 2),
		SummaryCacheTTL:  parseDuration(v.GetString("EVIDENCE_SUMMARY_CACHE_TTL"), 24*time.Hour),
		MaxFilesPerBatch: positiveOr(v.GetInt("EVIDENCE_MAX_FILES_PER_BATCH"), 100),
	}

	cfg.S3 = S3Config{
		Region:          v.GetString("S3_REGION"),
		Endpoint:        v.GetString("S3_ENDPOINT"),
		Bucket:          v.GetString("S3_BUCKET"),
		AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
		SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		UsePathStyle:    v.GetBool("S3_USE_PATH_STYLE"),
	}

	switch cfg.Evidence.StorageBackend {
	case StorageBackendLocal:
	case StorageBackendS3:
		if cfg.S3.Bucket == "" {
			return nil, errors.New("S3_BUCKET is required when EVIDENCE_STORAGE_BACKEND=s3")
		}
	default:
		return nil, fmt.Errorf("unknown EVIDENCE_STORAGE_BACKEND %q", cfg.Evidence.StorageBackend)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "theftclaim")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("EVIDENCE_STORAGE_BACKEND", StorageBackendLocal)
	v.SetDefault("EVIDENCE_STORAGE_DIR", "./evidence")
	v.SetDefault("EVIDENCE_STAGING_DIR", "./evidence/.staging")
	v.SetDefault("EVIDENCE_SIGNED_URL_SECRET", "dev_evidence_secret")
	v.SetDefault("EVIDENCE_SIGNED_URL_TTL", "30m")
	v.SetDefault("EVIDENCE_PREVIEW_MAX_BYTES", 512*1024)
	v.SetDefault("EVIDENCE_PARALLELISM", 1)
	v.SetDefault("EVIDENCE_TRANSFER_TIMEOUT", "5m")
	v.SetDefault("EVIDENCE_PROGRESS_INTERVAL", "200ms")
	v.SetDefault("EVIDENCE_BATCH_TTL", "24h")
	v.SetDefault("EVIDENCE_CLEANUP_INTERVAL", "10m")
	v.SetDefault("EVIDENCE_WORKERS", 2)
	v.SetDefault("EVIDENCE_SUMMARY_CACHE_TTL", "24h")
	v.SetDefault("EVIDENCE_MAX_FILES_PER_BATCH", 100)

	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_USE_PATH_STYLE", false)
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

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

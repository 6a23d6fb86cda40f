package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	TTS      TTSConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Backend     string // "local" or "supabase"
	LocalDir    string // default: "artifacts"
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type TTSConfig struct {
	Chain           []string // ordered provider names, e.g. "openai,elevenlabs,piper"
	ProviderTimeout time.Duration

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	ElevenLabsKey     string
	ElevenLabsBaseURL string
	ElevenLabsModel   string

	PiperBinPath string // default: "piper"
	PiperModel   string // required when "piper" is in the chain
}

type PipelineConfig struct {
	HighWorkers     int
	StandardWorkers int
	BatchWorkers    int

	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	LeaseTTL       time.Duration
	HeartbeatEvery time.Duration
	StaleAfter     time.Duration
	PollInterval   time.Duration

	CacheTTL       time.Duration // 0 = cache entries never expire
	RetentionEvery string        // cron spec for the cache sweep task
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	highWorkers, err := getEnvInt("PIPELINE_HIGH_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_HIGH_WORKERS: %w", err)
	}

	standardWorkers, err := getEnvInt("PIPELINE_STANDARD_WORKERS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_STANDARD_WORKERS: %w", err)
	}

	batchWorkers, err := getEnvInt("PIPELINE_BATCH_WORKERS", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_BATCH_WORKERS: %w", err)
	}

	maxAttempts, err := getEnvInt("PIPELINE_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_MAX_ATTEMPTS: %w", err)
	}

	providerTimeout, err := getEnvDuration("TTS_PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid TTS_PROVIDER_TIMEOUT: %w", err)
	}

	backoffBase, err := getEnvDuration("PIPELINE_BACKOFF_BASE", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_BACKOFF_BASE: %w", err)
	}

	backoffCap, err := getEnvDuration("PIPELINE_BACKOFF_CAP", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_BACKOFF_CAP: %w", err)
	}

	leaseTTL, err := getEnvDuration("PIPELINE_LEASE_TTL", 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_LEASE_TTL: %w", err)
	}

	heartbeatEvery, err := getEnvDuration("PIPELINE_HEARTBEAT_EVERY", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_HEARTBEAT_EVERY: %w", err)
	}

	staleAfter, err := getEnvDuration("PIPELINE_STALE_AFTER", 45*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_STALE_AFTER: %w", err)
	}

	pollInterval, err := getEnvDuration("PIPELINE_POLL_INTERVAL", 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_POLL_INTERVAL: %w", err)
	}

	cacheTTL, err := getEnvDuration("PIPELINE_CACHE_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			LocalDir:    getEnv("STORAGE_LOCAL_DIR", "artifacts"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "speech"),
		},
		TTS: TTSConfig{
			Chain:             splitList(getEnv("TTS_CHAIN", "openai,piper")),
			ProviderTimeout:   providerTimeout,
			OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:     getEnv("TTS_OPENAI_BASE_URL", ""),
			OpenAIModel:       getEnv("TTS_OPENAI_MODEL", ""),
			ElevenLabsKey:     getEnv("ELEVENLABS_API_KEY", ""),
			ElevenLabsBaseURL: getEnv("TTS_ELEVENLABS_BASE_URL", ""),
			ElevenLabsModel:   getEnv("TTS_ELEVENLABS_MODEL", ""),
			PiperBinPath:      getEnv("TTS_LOCAL_PIPER_BIN", "piper"),
			PiperModel:        getEnv("TTS_LOCAL_PIPER_MODEL", ""),
		},
		Pipeline: PipelineConfig{
			HighWorkers:     highWorkers,
			StandardWorkers: standardWorkers,
			BatchWorkers:    batchWorkers,
			MaxAttempts:     maxAttempts,
			BackoffBase:     backoffBase,
			BackoffCap:      backoffCap,
			LeaseTTL:        leaseTTL,
			HeartbeatEvery:  heartbeatEvery,
			StaleAfter:      staleAfter,
			PollInterval:    pollInterval,
			CacheTTL:        cacheTTL,
			RetentionEvery:  getEnv("PIPELINE_RETENTION_CRON", "@every 1h"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(c.TTS.Chain) == 0 {
		missing = append(missing, "TTS_CHAIN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

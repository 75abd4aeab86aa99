package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/cadforge/api/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Library   LibraryConfig
	Engines   map[model.Engine]EngineConfig
	Cache     CacheConfig
	Jobs      JobsConfig
	Wait      WaitConfig
	Storage   StorageConfig
	Publish   PublishConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LibraryConfig struct {
	Path string
}

type EngineConfig struct {
	Enabled    bool
	Weight     int // relative asynq queue weight
	ServiceURL string
	Timeout    int // seconds
}

type CacheConfig struct {
	TTLHours int // 0 = never expire
}

type JobsConfig struct {
	RetentionHours int
}

type WaitConfig struct {
	DefaultSeconds int
	MaxSeconds     int
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type PublishConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ComputePerHour int
	SearchPerMin   int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORAGE_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("library.path", "LIBRARY_PATH")
	_ = viper.BindEnv("engines.cadquery.enabled", "ENGINE_CADQUERY_ENABLED")
	_ = viper.BindEnv("engines.cadquery.service_url", "ENGINE_CADQUERY_URL")
	_ = viper.BindEnv("engines.cadquery.weight", "ENGINE_CADQUERY_WEIGHT")
	_ = viper.BindEnv("engines.archiyou.enabled", "ENGINE_ARCHIYOU_ENABLED")
	_ = viper.BindEnv("engines.archiyou.service_url", "ENGINE_ARCHIYOU_URL")
	_ = viper.BindEnv("engines.archiyou.weight", "ENGINE_ARCHIYOU_WEIGHT")
	_ = viper.BindEnv("engines.openscad.enabled", "ENGINE_OPENSCAD_ENABLED")
	_ = viper.BindEnv("engines.openscad.service_url", "ENGINE_OPENSCAD_URL")
	_ = viper.BindEnv("engines.openscad.weight", "ENGINE_OPENSCAD_WEIGHT")
	_ = viper.BindEnv("cache.ttl_hours", "CACHE_TTL_HOURS")
	_ = viper.BindEnv("jobs.retention_hours", "JOBS_RETENTION_HOURS")
	_ = viper.BindEnv("wait.default_seconds", "WAIT_DEFAULT_SECONDS")
	_ = viper.BindEnv("wait.max_seconds", "WAIT_MAX_SECONDS")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("publish.enabled", "PUBLISH_ENABLED")
	_ = viper.BindEnv("ratelimit.compute_per_hour", "RATELIMIT_COMPUTE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.search_per_min", "RATELIMIT_SEARCH_PER_MIN")

	// Defaults
	viper.SetDefault("server.port", "8090")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("library.path", "./scriptlibrary")

	// Engine defaults: cadquery and archiyou on, openscad off (no worker yet)
	viper.SetDefault("engines.cadquery.enabled", true)
	viper.SetDefault("engines.cadquery.weight", 6)
	viper.SetDefault("engines.cadquery.timeout", 300)
	viper.SetDefault("engines.archiyou.enabled", true)
	viper.SetDefault("engines.archiyou.weight", 3)
	viper.SetDefault("engines.archiyou.timeout", 300)
	viper.SetDefault("engines.openscad.enabled", false)
	viper.SetDefault("engines.openscad.weight", 1)
	viper.SetDefault("engines.openscad.timeout", 300)

	viper.SetDefault("cache.ttl_hours", 168) // one week
	viper.SetDefault("jobs.retention_hours", 24)
	viper.SetDefault("wait.default_seconds", 3)
	viper.SetDefault("wait.max_seconds", 120)
	viper.SetDefault("publish.enabled", false)
	viper.SetDefault("ratelimit.compute_per_hour", 120)
	viper.SetDefault("ratelimit.search_per_min", 60)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	engines := make(map[model.Engine]EngineConfig, len(model.ValidEngines))
	for _, engine := range model.ValidEngines {
		prefix := "engines." + string(engine)
		engines[engine] = EngineConfig{
			Enabled:    viper.GetBool(prefix + ".enabled"),
			Weight:     viper.GetInt(prefix + ".weight"),
			ServiceURL: viper.GetString(prefix + ".service_url"),
			Timeout:    viper.GetInt(prefix + ".timeout"),
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Library: LibraryConfig{
			Path: viper.GetString("library.path"),
		},
		Engines: engines,
		Cache: CacheConfig{
			TTLHours: viper.GetInt("cache.ttl_hours"),
		},
		Jobs: JobsConfig{
			RetentionHours: viper.GetInt("jobs.retention_hours"),
		},
		Wait: WaitConfig{
			DefaultSeconds: viper.GetInt("wait.default_seconds"),
			MaxSeconds:     viper.GetInt("wait.max_seconds"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Publish: PublishConfig{
			Enabled: viper.GetBool("publish.enabled"),
		},
		RateLimit: RateLimitConfig{
			ComputePerHour: viper.GetInt("ratelimit.compute_per_hour"),
			SearchPerMin:   viper.GetInt("ratelimit.search_per_min"),
		},
	}

	return cfg, nil
}

// EnabledEngines returns the engines that may receive work.
func (c *Config) EnabledEngines() []model.Engine {
	var out []model.Engine
	for _, engine := range model.ValidEngines {
		if c.Engines[engine].Enabled {
			out = append(out, engine)
		}
	}
	return out
}

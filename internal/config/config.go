package config

import (
	"fmt"
	"log"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr    string `envconfig:"LISTEN_ADDR" default:":8080"`
	AdminSecret   string `envconfig:"ADMIN_SECRET" default:""`
	DatabasePath  string `envconfig:"DATABASE_PATH" default:"/app/data/tokengate.db"`
	ModelsFile    string `envconfig:"MODELS_FILE" default:""`
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"redis"` // "redis" or "memory"
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// How an admission check behaves when the store is unreachable:
	// "closed" denies the request, "open" lets it through unaccounted.
	StoreFailureMode string `envconfig:"STORE_FAILURE_MODE" default:"closed"`

	DefaultTokensPerMinute int64 `envconfig:"MAX_TOKENS_PER_MINUTE" default:"1000"`
	DefaultTokensPerHour   int64 `envconfig:"MAX_TOKENS_PER_HOUR" default:"10000"`
	DefaultTokensPerDay    int64 `envconfig:"MAX_TOKENS_PER_DAY" default:"100000"`
	DefaultMaxConcurrent   int64 `envconfig:"MAX_CONCURRENT_REQUESTS" default:"10"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TOKENGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.StoreFailureMode != "closed" && Cfg.StoreFailureMode != "open" {
		log.Fatalf("invalid STORE_FAILURE_MODE %q (want \"open\" or \"closed\")", Cfg.StoreFailureMode)
	}
}

// ModelLimits are optional per-model caps from the models file. Zero fields
// fall back to the process-wide defaults.
type ModelLimits struct {
	MaxTokensPerMinute    int64 `yaml:"max_tokens_per_minute"`
	MaxTokensPerHour      int64 `yaml:"max_tokens_per_hour"`
	MaxTokensPerDay       int64 `yaml:"max_tokens_per_day"`
	MaxConcurrentRequests int64 `yaml:"max_concurrent_requests"`
}

type ModelEntry struct {
	Endpoint string      `yaml:"endpoint"`
	Limits   ModelLimits `yaml:"limits"`
}

type ModelsFile struct {
	Models map[string]ModelEntry `yaml:"models"`
}

// LoadModels parses the YAML models file mapping model ids to backend
// endpoints and optional limit overrides. An empty path yields an empty map.
func LoadModels(path string) (*ModelsFile, error) {
	mf := &ModelsFile{Models: map[string]ModelEntry{}}
	if path == "" {
		return mf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	if err := yaml.Unmarshal(data, mf); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	if mf.Models == nil {
		mf.Models = map[string]ModelEntry{}
	}
	return mf, nil
}

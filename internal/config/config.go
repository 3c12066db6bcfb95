package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr    string `env:"KASA_LISTEN_ADDR" envDefault:":8080"`
	OriginBaseURL string `env:"KASA_ORIGIN_BASE_URL"`

	// CacheVersion identifies one generation of the cache store and rotates
	// per deploy. Older generations are deleted on activate.
	CacheVersion string `env:"KASA_CACHE_VERSION" envDefault:"kasa-v1"`

	// Backend selects the cache store implementation: leveldb, redis or s3.
	Backend     string `env:"KASA_CACHE_BACKEND" envDefault:"leveldb"`
	LevelDBPath string `env:"KASA_LEVELDB_PATH" envDefault:"./data/cache"`

	RedisAddr     string `env:"KASA_REDIS_ADDR"`
	RedisDB       int    `env:"KASA_REDIS_DB" envDefault:"0"`
	RedisPassword string `env:"KASA_REDIS_PASSWORD"`

	S3Endpoint  string `env:"KASA_S3_ENDPOINT"`
	S3Region    string `env:"KASA_S3_REGION"`
	S3Bucket    string `env:"KASA_S3_BUCKET"`
	S3AccessKey string `env:"KASA_S3_ACCESS_KEY"`
	S3SecretKey string `env:"KASA_S3_SECRET_KEY"`

	MaxAgeSeconds int `env:"KASA_MAX_AGE_SECONDS" envDefault:"604800"`

	// Routing conventions of the application the engine fronts. Requests
	// under these are never intercepted.
	APIPrefix   string   `env:"KASA_API_PREFIX" envDefault:"/api/"`
	AdminPrefix string   `env:"KASA_ADMIN_PREFIX" envDefault:"/admin"`
	FontHosts   []string `env:"KASA_FONT_HOSTS" envSeparator:"," envDefault:"fonts.googleapis.com,fonts.gstatic.com"`

	// ShellPath is the cached document served to offline navigations that
	// miss the cache.
	ShellPath string `env:"KASA_SHELL_PATH" envDefault:"/"`

	ManifestPath string `env:"KASA_MANIFEST"`

	Verbose bool `env:"KASA_VERBOSE" envDefault:"false"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if cfg.OriginBaseURL == "" {
		return cfg, errors.New("KASA_ORIGIN_BASE_URL is required")
	}
	switch cfg.Backend {
	case "leveldb":
		if cfg.LevelDBPath == "" {
			return cfg, errors.New("KASA_LEVELDB_PATH is required")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return cfg, errors.New("KASA_REDIS_ADDR is required")
		}
	case "s3":
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return cfg, errors.New("S3 endpoint/bucket/access/secret are required")
		}
	default:
		return cfg, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	return cfg, nil
}

func (c Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// Manifest is the ordered list of assets precached at install time.
// Changing the list requires a new CacheVersion.
type Manifest struct {
	Assets []string `yaml:"assets"`
}

func DefaultManifest() Manifest {
	return Manifest{Assets: []string{
		"/",
		"/index.html",
		"/favicon.ico",
		"/manifest.webmanifest",
	}}
}

func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Assets) == 0 {
		return Manifest{}, errors.New("manifest has no assets")
	}
	return m, nil
}

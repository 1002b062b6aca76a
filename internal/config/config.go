package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/example/fpid/internal/matcher"
)

// Backend names accepted in configuration.
const (
	RegistryFile = "file"
	RegistryDB   = "db"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ImagesLocal = "local"
	ImagesMinIO = "minio"

	ExtractorNative = "native"
	ExtractorGRPC   = "grpc"
)

// Config is the complete process configuration, read from the environment.
type Config struct {
	HTTPAddr string `env:"FPID_HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"FPID_LOG_LEVEL" envDefault:"info"`

	Auth      AuthConfig      `envPrefix:"FPID_JWT_"`
	Registry  RegistryConfig  `envPrefix:"FPID_REGISTRY_"`
	Database  DatabaseConfig  `envPrefix:"FPID_DB_"`
	Images    ImagesConfig    `envPrefix:"FPID_IMAGES_"`
	MinIO     MinIOConfig     `envPrefix:"FPID_MINIO_"`
	Redis     RedisConfig     `envPrefix:"FPID_REDIS_"`
	Extractor ExtractorConfig `envPrefix:"FPID_EXTRACTOR_"`
	Match     MatchConfig     `envPrefix:"FPID_MATCH_"`
}

// AuthConfig has no default secret; with Secret unset the API rejects
// every authenticated route.
type AuthConfig struct {
	Secret   string `env:"SECRET"`
	Audience string `env:"AUDIENCE"`
}

type RegistryConfig struct {
	Backend string `env:"BACKEND" envDefault:"file"`
	Path    string `env:"PATH" envDefault:"data/users.json"`
}

// DatabaseConfig holds identification logs and, with the db registry
// backend, the identities themselves.
type DatabaseConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"`
	DSN             string        `env:"DSN" envDefault:"data/fpid.db"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
}

type ImagesConfig struct {
	Backend string `env:"BACKEND" envDefault:"local"`
	Dir     string `env:"DIR" envDefault:"images"`
	TempDir string `env:"TEMP_DIR"`
}

type MinIOConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"fingerprints"`
	Prefix    string `env:"PREFIX" envDefault:"enrolled"`
	Region    string `env:"REGION"`
	UseSSL    bool   `env:"USE_SSL"`
}

// RedisConfig enables the identification result cache when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB"`
	TTL      time.Duration `env:"TTL" envDefault:"5m"`
}

type ExtractorConfig struct {
	Backend      string `env:"BACKEND" envDefault:"native"`
	Addr         string `env:"ADDR" envDefault:"localhost:50051"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":50051"`
	MaxKeypoints int    `env:"MAX_KEYPOINTS" envDefault:"500"`
}

type MatchConfig struct {
	Threshold   int     `env:"THRESHOLD" envDefault:"15"`
	Ratio       float64 `env:"RATIO" envDefault:"0.75"`
	Mode        string  `env:"MODE" envDefault:"ratio"`
	MinFeatures int     `env:"MIN_FEATURES" envDefault:"50"`
}

// Matcher converts the match settings into a validated matcher.Config.
func (c MatchConfig) Matcher() (matcher.Config, error) {
	mode, err := matcher.ParseMode(c.Mode)
	if err != nil {
		return matcher.Config{}, err
	}
	cfg := matcher.Config{Threshold: c.Threshold, Ratio: c.Ratio, Mode: mode}
	if err := cfg.Validate(); err != nil {
		return matcher.Config{}, err
	}
	return cfg, nil
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (Config, error) {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and invalid match settings.
func (c Config) Validate() error {
	var errs []error
	if c.Registry.Backend != RegistryFile && c.Registry.Backend != RegistryDB {
		errs = append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}
	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Images.Backend != ImagesLocal && c.Images.Backend != ImagesMinIO {
		errs = append(errs, fmt.Errorf("unknown image backend %q", c.Images.Backend))
	}
	if c.Images.Backend == ImagesMinIO && c.MinIO.Endpoint == "" {
		errs = append(errs, errors.New("minio image backend requires FPID_MINIO_ENDPOINT"))
	}
	if c.Extractor.Backend != ExtractorNative && c.Extractor.Backend != ExtractorGRPC {
		errs = append(errs, fmt.Errorf("unknown extractor backend %q", c.Extractor.Backend))
	}
	if c.Match.MinFeatures < 1 {
		errs = append(errs, fmt.Errorf("min features must be positive, got %d", c.Match.MinFeatures))
	}
	if _, err := c.Match.Matcher(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	ProfileBackendPostgres  = "postgres"
	ProfileBackendFirestore = "firestore"
)

type Config struct {
	Port                    string `env:"PORT" env-default:"8080"`
	Env                     string `env:"ENV" env-default:"development"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH" env-required:"true"`

	MongoURI        string `env:"MONGO_URI" env-required:"true"`
	MongoDatabase   string `env:"MONGO_DATABASE" env-default:"familyhub"`
	PostgresConnStr string `env:"POSTGRES_CONN_STR"`
	ProfileBackend  string `env:"PROFILE_BACKEND" env-default:"postgres"`
	RedisAddr       string `env:"REDIS_ADDR"`
	RedisPassword   string `env:"REDIS_PASSWORD"`

	Retention      time.Duration `env:"RETENTION_WINDOW" env-default:"720h"`
	BatchRetention time.Duration `env:"BATCH_RETENTION_WINDOW" env-default:"720h"`
	SweepHour      int           `env:"SWEEP_HOUR" env-default:"2"`
	SweepTimezone  string        `env:"SWEEP_TIMEZONE" env-default:"America/New_York"`
	SweepLockTTL   time.Duration `env:"SWEEP_LOCK_TTL" env-default:"10m"`

	PollInterval        time.Duration `env:"POLL_INTERVAL" env-default:"1m"`
	PollGrace           time.Duration `env:"POLL_GRACE" env-default:"1m"`
	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY" env-default:"32"`
	ResolveConcurrency  int           `env:"RESOLVE_CONCURRENCY" env-default:"16"`
	GatewayTimeout      time.Duration `env:"GATEWAY_TIMEOUT" env-default:"10s"`
	CleanupTimeout      time.Duration `env:"CLEANUP_TIMEOUT" env-default:"10s"`
}

// Load reads a .env file if present, then the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.ProfileBackend {
	case ProfileBackendPostgres:
		if c.PostgresConnStr == "" {
			return fmt.Errorf("POSTGRES_CONN_STR is required when PROFILE_BACKEND=%s", ProfileBackendPostgres)
		}
	case ProfileBackendFirestore:
	default:
		return fmt.Errorf("unknown PROFILE_BACKEND %q", c.ProfileBackend)
	}
	if c.SweepHour < 0 || c.SweepHour > 23 {
		return fmt.Errorf("SWEEP_HOUR must be between 0 and 23, got %d", c.SweepHour)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be positive")
	}
	return nil
}

package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY,notEmpty"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	LockTimeout          time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	MaxBidsPerJob        int           `env:"MAX_BIDS_PER_JOB" envDefault:"500"`
	DefaultSearchRadiusM float64       `env:"DEFAULT_SEARCH_RADIUS_M" envDefault:"10000"`
	MaxSearchRadiusM     float64       `env:"MAX_SEARCH_RADIUS_M" envDefault:"50000"`
	SubscriberBuffer     int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Production reports whether APP_ENV asks for production behaviour.
func (c Config) Production() bool { return c.AppEnv == "production" }

// Parse reads the config from the process environment.
func Parse() (Config, error) {
	return ParseWithOptions(env.Options{})
}

// ParseWithOptions is Parse with env options, used by tests to supply an
// environment map.
func ParseWithOptions(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return c
}

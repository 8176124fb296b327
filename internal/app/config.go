package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (FULFILL_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Health endpoint listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (FULFILL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"" usage:"Redis address for the order read cache; empty disables caching" flag:"redis-addr"`
	Kafka       KafkaConfig
	Saga        SagaConfig
	Outbox      OutboxConfig
	Graceful    GracefulConfig
}

// KafkaConfig controls event publishing to the broker.
type KafkaConfig struct {
	Brokers []string `default:"" usage:"Kafka broker addresses; empty disables external publishing"`
}

// SagaConfig tunes the reservation coordinator and its recovery sweeps.
type SagaConfig struct {
	PaymentTTL    time.Duration `default:"30m" usage:"How long an online payment may stay unfinished" flag:"payment-ttl"`
	Carrier       string        `default:"default" usage:"Carrier new shipments are opened with"`
	PendingAge    time.Duration `default:"1m"  usage:"Age before a Pending order is re-driven" flag:"pending-age"`
	SweepLimit    int           `default:"100" usage:"Max records per sweep pass" flag:"sweep-limit"`
	SweepInterval time.Duration `default:"30s" usage:"How often recovery sweeps run" flag:"sweep-interval"`
	Workers       int           `default:"8"   usage:"Event dispatcher worker count"`
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	Interval time.Duration `default:"1s"  usage:"Outbox poll interval" flag:"outbox-interval"`
	Batch    int           `default:"100" usage:"Max records per outbox drain" flag:"outbox-batch"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "FULFILL",
		Files:     []string{"config.yaml", "/etc/fulfillment/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set FULFILL_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the FULFILL_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

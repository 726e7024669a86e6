package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

var config *Config

// Config holds every env-derived setting. Only this struct may be used to
// read configuration; no direct env access elsewhere.
type Config struct {
	AppEnv         string `env:"APP_ENV" default:"dev"`
	AppName        string `env:"APP_NAME" default:"broadcast_scheduler"`
	AppMetricsAddr string `env:"APP_METRICS_ADDR" default:":9091"`
	AppMetricsURI  string `env:"APP_METRICS_URI" default:"/metrics"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr      string `env:"REDIS_ADDR"`
	RedisUsername  string `env:"REDIS_USER"`
	RedisPassword  string `env:"REDIS_PASS"`
	RedisDatabase  int    `env:"REDIS_DATABASE"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE" default:"broadcast"`

	BridgeURL      string        `env:"BRIDGE_URL" default:"http://127.0.0.1:9100"`
	BridgeTimeout  time.Duration `env:"BRIDGE_TIMEOUT" default:"15s"`
	BridgeSessions int           `env:"BRIDGE_SESSIONS" default:"1"`

	DispatchPollInterval time.Duration `env:"DISPATCH_POLL_INTERVAL" default:"60s"`
	DispatchMaxAttempts  int           `env:"DISPATCH_MAX_ATTEMPTS" default:"3"`
	DispatchRetryBackoff time.Duration `env:"DISPATCH_RETRY_BACKOFF" default:"1s"`
	DispatchLockTTL      time.Duration `env:"DISPATCH_LOCK_TTL" default:"30m"`
	DispatchBatchSize    int           `env:"DISPATCH_BATCH_SIZE" default:"50"`

	EventStreamName   string `env:"EVENT_STREAM_NAME" default:"schedule:events"`
	EventStreamMaxLen int64  `env:"EVENT_STREAM_MAX_LEN" default:"10000"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.New("failed to map env variables to Configuration object error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

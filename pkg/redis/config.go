package redis

import "time"

// Config holds the Redis connection settings.
type Config struct {
	ConnectionURL   string        `env:"REDIS_URL,required"`                 // redis://:password@localhost:6379/0
	ConnectAttempts int           `env:"REDIS_CONNECT_ATTEMPTS" envDefault:"3"`
	ConnectBackoff  time.Duration `env:"REDIS_CONNECT_BACKOFF" envDefault:"1s"`
	ConnectTimeout  time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

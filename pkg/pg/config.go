package pg

import "time"

// Config holds the PostgreSQL pool settings of the billing worker.
type Config struct {
	ConnectionString  string        `env:"PG_CONN_URL,required"`
	MaxConns          int32         `env:"PG_MAX_CONNS" envDefault:"10"`
	MinConns          int32         `env:"PG_MIN_CONNS" envDefault:"2"`
	HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`

	ConnectAttempts int           `env:"PG_CONNECT_ATTEMPTS" envDefault:"3"`  // total attempts, including the first one
	ConnectBackoff  time.Duration `env:"PG_CONNECT_BACKOFF" envDefault:"2s"` // delay before the first retry, doubled after each

	MigrationsTable string `env:"PG_MIGRATIONS_TABLE" envDefault:"billing_schema_migrations"`
}

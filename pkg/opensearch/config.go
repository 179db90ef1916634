package opensearch

// Config holds OpenSearch connection settings.
type Config struct {
	Addresses  []string `env:"OPENSEARCH_ADDRESSES,required" envSeparator:","`
	Username   string   `env:"OPENSEARCH_USERNAME"`
	Password   string   `env:"OPENSEARCH_PASSWORD"`
	MaxRetries int      `env:"OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	EventIndex string   `env:"OPENSEARCH_EVENT_INDEX" envDefault:"billing-lifecycle-events"`
}

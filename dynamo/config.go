package dynamo

// MaxBatchSize is the BatchGetItem key limit.
const MaxBatchSize = 100

// Config holds configuration for a Conn.
type Config struct {
	// CounterTable holds one atomic id counter per table, keyed by the string
	// attribute "table".
	// Default: "leanmap_counters"
	CounterTable string

	// BatchSize is the number of keys per BatchGetItem request.
	// Default: 100
	// Max: 100
	BatchSize int

	// SoftDelete makes Delete set the TTL attribute instead of removing the item,
	// and makes reads skip items whose TTL has passed. The stream package relies on
	// the resulting MODIFY events to cascade deletes.
	SoftDelete bool

	// TTLAttribute is the attribute DynamoDB TTL is enabled on.
	// Default: "ttl"
	TTLAttribute string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CounterTable: "leanmap_counters",
		BatchSize:    MaxBatchSize,
		TTLAttribute: "ttl",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.CounterTable == "" {
		c.CounterTable = "leanmap_counters"
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.TTLAttribute == "" {
		c.TTLAttribute = "ttl"
	}
}

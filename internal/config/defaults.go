package config

// Default configuration values.
const (
	DefaultQueriesDir      = "queries"
	DefaultPrivacyMode     = "enforce"
	DefaultMaxInMemoryRows = 100000
	DefaultBatchSize       = 1024
)

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.QueriesDir == "" {
		c.QueriesDir = DefaultQueriesDir
	}
	if c.Privacy.Mode == "" {
		c.Privacy.Mode = DefaultPrivacyMode
	}
	if c.Spill.MaxInMemoryRows <= 0 {
		c.Spill.MaxInMemoryRows = DefaultMaxInMemoryRows
	}
	if c.Spill.BatchSize <= 0 {
		c.Spill.BatchSize = DefaultBatchSize
	}
}

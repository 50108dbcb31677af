package engine

import "time"

// Config contains supervisor configuration
type Config struct {
	MaxConcurrentJobs int           // 0 runs every admitted job at once
	ShutdownTimeout   time.Duration // How long Shutdown waits for tasks to return
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentJobs: 0,
		ShutdownTimeout:   30 * time.Second,
	}
}

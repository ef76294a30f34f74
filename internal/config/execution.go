package config

import "time"

// ExecutionConfig configures the execution queue.
type ExecutionConfig struct {
	// Interpreter argv; cell source is written to its stdin.
	Interpreter  []string `yaml:"interpreter"`
	Timeout      string   `yaml:"timeout"`
	RecordTiming bool     `yaml:"record_timing"`
	QueueSize    int      `yaml:"queue_size"`
}

// GetExecutionTimeout returns the per-cell execution timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

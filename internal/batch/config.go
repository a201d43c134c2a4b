package batch

import (
	"fmt"
	"time"
)

// Config holds the tuning of a Processor.
type Config struct {
	// MaxQueueSize is the capacity of the queue between producers and the
	// worker. Records offered to a full queue are dropped.
	MaxQueueSize int
	// MaxExportBatchSize is the number of records that triggers an export.
	MaxExportBatchSize int
	// ScheduleDelay bounds how long a non-empty batch waits before export.
	ScheduleDelay time.Duration
	// ExporterTimeout bounds a single export. An export that has not
	// completed by then is counted as failed and its batch released.
	ExporterTimeout time.Duration
	// PollInterval is how long the idle worker waits before looking at the
	// queue again.
	PollInterval time.Duration
}

// DefaultConfig returns the default processor tuning.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:       2048,
		MaxExportBatchSize: 512,
		ScheduleDelay:      5 * time.Second,
		ExporterTimeout:    30 * time.Second,
		PollInterval:       100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("max queue size must be at least 1, got %d", c.MaxQueueSize)
	}
	if c.MaxExportBatchSize < 1 {
		return fmt.Errorf("max export batch size must be at least 1, got %d", c.MaxExportBatchSize)
	}
	if c.MaxExportBatchSize > c.MaxQueueSize {
		return fmt.Errorf("max export batch size (%d) must not exceed max queue size (%d)", c.MaxExportBatchSize, c.MaxQueueSize)
	}
	if c.ScheduleDelay <= 0 {
		return fmt.Errorf("schedule delay must be positive, got %s", c.ScheduleDelay)
	}
	if c.ExporterTimeout <= 0 {
		return fmt.Errorf("exporter timeout must be positive, got %s", c.ExporterTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/szibis/telemetry-shipper/internal/compression"
	"github.com/szibis/telemetry-shipper/internal/logging"
	"github.com/szibis/telemetry-shipper/internal/sender"
)

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if strings.TrimSpace(c.ServiceName) == "" {
		add("service-name", errors.New("must not be empty"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log-level", err)
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		add("memory-limit-ratio", fmt.Errorf("must be within [0, 1], got %g", c.MemoryLimitRatio))
	}
	if c.ShutdownTimeout <= 0 {
		add("shutdown-timeout", fmt.Errorf("must be positive, got %s", c.ShutdownTimeout))
	}

	if c.ExporterEndpoint == "" {
		add("exporter-endpoint", errors.New("must not be empty"))
	}
	add("exporter-protocol", validateProtocol(c.ExporterProtocol))
	if c.ExporterTimeout <= 0 {
		add("exporter-timeout", fmt.Errorf("must be positive, got %s", c.ExporterTimeout))
	}
	if _, err := compression.ParseType(c.ExporterCompression); err != nil {
		add("exporter-compression", err)
	}
	add("exporter-tls", c.ExporterTLSConfig().Validate())
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerThreshold < 1 {
			add("exporter-circuit-breaker-threshold", fmt.Errorf("must be at least 1, got %d", c.CircuitBreakerThreshold))
		}
		if c.CircuitBreakerResetTimeout <= 0 {
			add("exporter-circuit-breaker-reset-timeout", fmt.Errorf("must be positive, got %s", c.CircuitBreakerResetTimeout))
		}
	}

	add("retry", c.RetryPolicy().Validate())
	add("span processor", c.SpanBatchConfig().Validate())
	add("log processor", c.LogBatchConfig().Validate())
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		add("sample-ratio", fmt.Errorf("must be within [0, 1], got %g", c.SampleRatio))
	}

	if c.LoadEnabled {
		add("load", c.LoadConfig().Validate())
		if c.LoadDuration < 0 {
			add("load-duration", fmt.Errorf("must not be negative, got %s", c.LoadDuration))
		}
	}

	if c.TelemetryEndpoint != "" {
		add("telemetry-protocol", validateProtocol(c.TelemetryProtocol))
	}

	return errors.Join(errs...)
}

func validateProtocol(p string) error {
	switch sender.Protocol(strings.ToLower(p)) {
	case sender.ProtocolGRPC, sender.ProtocolHTTP:
		return nil
	}
	return fmt.Errorf("must be grpc or http, got %q", p)
}

// Package telemetry exports the shipper's own logs and metrics over OTLP.
//
// Self-telemetry is separate from the delivery pipeline: it uses the OTel
// SDK exporters, bridges the Prometheus registry into a periodic metric
// reader, and forwards internal log entries through a logging hook.
package telemetry

import (
	"context"
	"fmt"
	"time"

	prombridge "go.opentelemetry.io/contrib/bridges/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/retry"
	"github.com/szibis/telemetry-shipper/internal/sender"
)

// ScopeName is the instrumentation scope of self-telemetry log records.
const ScopeName = "telemetry-shipper"

// Config holds configuration for OTLP self-telemetry.
type Config struct {
	Endpoint        string            // empty disables self-telemetry
	Protocol        sender.Protocol   // grpc (default) or http
	Insecure        bool              // plaintext connection
	Timeout         time.Duration     // per-export timeout, SDK default when zero
	PushInterval    time.Duration     // metric push interval (default: 30s)
	Compression     string            // "gzip" or ""
	Headers         map[string]string // extra request headers
	ShutdownTimeout time.Duration     // default: 5s

	// Retry reuses the delivery policy shape. Retrying is enabled when
	// MaxAttempts is above one; the SDK bounds it by MaxElapsed.
	Retry retry.Policy
}

func (c Config) retryEnabled() bool { return c.Retry.MaxAttempts > 1 }

// Telemetry holds the OTel SDK providers for self-monitoring.
type Telemetry struct {
	logProvider     *sdklog.LoggerProvider
	meterProvider   *metric.MeterProvider
	logger          otellog.Logger
	shutdownFuncs   []func(context.Context) error
	shutdownTimeout time.Duration
}

// Enabled reports whether self-telemetry is running.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.logger != nil
}

// Logger returns the OTel logger, or nil when disabled.
func (t *Telemetry) Logger() otellog.Logger {
	if t == nil {
		return nil
	}
	return t.logger
}

// ShutdownTimeout returns the configured shutdown grace period.
func (t *Telemetry) ShutdownTimeout() time.Duration {
	if t == nil || t.shutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return t.shutdownTimeout
}

// Init starts the OTLP log and metric exporters. The shipper's own resource
// carries the same service name and attributes as the shipped records.
// It returns nil when cfg.Endpoint is empty.
func Init(ctx context.Context, cfg Config, res record.Resource, version string) (*Telemetry, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	if cfg.Protocol == "" {
		cfg.Protocol = sender.ProtocolGRPC
	}

	attrs := append(res.Attributes[:len(res.Attributes):len(res.Attributes)],
		semconv.ServiceName(res.ServiceName),
		semconv.ServiceVersion(version),
	)
	otelRes, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	t := &Telemetry{shutdownTimeout: cfg.ShutdownTimeout}

	logExporter, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create log exporter: %w", err)
	}
	t.logProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(otelRes),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	t.shutdownFuncs = append(t.shutdownFuncs, t.logProvider.Shutdown)
	t.logger = t.logProvider.Logger(ScopeName, otellog.WithInstrumentationVersion(version))

	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	pushInterval := cfg.PushInterval
	if pushInterval <= 0 {
		pushInterval = 30 * time.Second
	}
	t.meterProvider = metric.NewMeterProvider(
		metric.WithResource(otelRes),
		metric.WithReader(
			metric.NewPeriodicReader(metricExporter,
				metric.WithInterval(pushInterval),
				metric.WithProducer(prombridge.NewMetricProducer()),
			),
		),
	)
	t.shutdownFuncs = append(t.shutdownFuncs, t.meterProvider.Shutdown)

	return t, nil
}

// Shutdown flushes and stops all providers and returns the first error.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var firstErr error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

//nolint:dupl // each OTLP exporter has its own option types
func newLogExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	if cfg.Protocol == sender.ProtocolHTTP {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
		}
		if cfg.Compression == "gzip" {
			opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
		}
		opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled:         cfg.retryEnabled(),
			InitialInterval: cfg.Retry.InitialBackoff,
			MaxInterval:     cfg.Retry.MaxBackoff,
			MaxElapsedTime:  cfg.Retry.MaxElapsed,
		}))
		return otlploghttp.New(ctx, opts...)
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(cfg.Timeout))
	}
	if cfg.Compression == "gzip" {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(cfg.Headers))
	}
	opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
		Enabled:         cfg.retryEnabled(),
		InitialInterval: cfg.Retry.InitialBackoff,
		MaxInterval:     cfg.Retry.MaxBackoff,
		MaxElapsedTime:  cfg.Retry.MaxElapsed,
	}))
	return otlploggrpc.New(ctx, opts...)
}

//nolint:dupl // each OTLP exporter has its own option types
func newMetricExporter(ctx context.Context, cfg Config) (metric.Exporter, error) {
	if cfg.Protocol == sender.ProtocolHTTP {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlpmetrichttp.WithTimeout(cfg.Timeout))
		}
		if cfg.Compression == "gzip" {
			opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
		}
		opts = append(opts, otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{
			Enabled:         cfg.retryEnabled(),
			InitialInterval: cfg.Retry.InitialBackoff,
			MaxInterval:     cfg.Retry.MaxBackoff,
			MaxElapsedTime:  cfg.Retry.MaxElapsed,
		}))
		return otlpmetrichttp.New(ctx, opts...)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlpmetricgrpc.WithTimeout(cfg.Timeout))
	}
	if cfg.Compression == "gzip" {
		opts = append(opts, otlpmetricgrpc.WithCompressor("gzip"))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	opts = append(opts, otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{
		Enabled:         cfg.retryEnabled(),
		InitialInterval: cfg.Retry.InitialBackoff,
		MaxInterval:     cfg.Retry.MaxBackoff,
		MaxElapsedTime:  cfg.Retry.MaxElapsed,
	}))
	return otlpmetricgrpc.New(ctx, opts...)
}

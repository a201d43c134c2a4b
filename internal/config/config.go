// Package config resolves the shipper configuration: defaults, then an
// optional YAML file, then explicitly set command line flags.
package config

import (
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/szibis/telemetry-shipper/internal/auth"
	"github.com/szibis/telemetry-shipper/internal/batch"
	"github.com/szibis/telemetry-shipper/internal/compression"
	"github.com/szibis/telemetry-shipper/internal/exporter"
	"github.com/szibis/telemetry-shipper/internal/loadgen"
	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/retry"
	"github.com/szibis/telemetry-shipper/internal/sender"
	"github.com/szibis/telemetry-shipper/internal/telemetry"
	tlspkg "github.com/szibis/telemetry-shipper/internal/tls"
	"github.com/szibis/telemetry-shipper/internal/tracing"
)

// version is set at build time via ldflags
var version = "dev"

// Version returns the build version.
func Version() string { return version }

// Signal names a telemetry signal with its own exporter and processor.
type Signal string

const (
	SignalTraces Signal = "traces"
	SignalLogs   Signal = "logs"
)

// Config holds the application configuration.
type Config struct {
	// Service identity
	ServiceName        string
	ResourceAttributes string // key1=value1,key2=value2

	// Process settings
	LogLevel         string
	ListenAddr       string // /metrics, /live, /ready
	MemoryLimitRatio float64
	ShutdownTimeout  time.Duration

	// Exporter settings
	ExporterEndpoint   string
	ExporterProtocol   string
	ExporterInsecure   bool
	ExporterTimeout    time.Duration
	ExporterTracesPath string
	ExporterLogsPath   string

	// Exporter TLS settings
	ExporterTLSEnabled            bool
	ExporterTLSCertFile           string
	ExporterTLSKeyFile            string
	ExporterTLSCAFile             string
	ExporterTLSInsecureSkipVerify bool
	ExporterTLSServerName         string

	// Exporter Auth settings
	ExporterAuthBearerToken   string
	ExporterAuthBasicUsername string
	ExporterAuthBasicPassword string
	ExporterAuthHeaders       string // key1=value1,key2=value2

	// Exporter compression (HTTP only)
	ExporterCompression      string
	ExporterCompressionLevel int

	// Exporter HTTP client settings
	ExporterMaxIdleConns         int
	ExporterMaxIdleConnsPerHost  int
	ExporterMaxConnsPerHost      int
	ExporterIdleConnTimeout      time.Duration
	ExporterDisableKeepAlives    bool
	ExporterForceHTTP2           bool
	ExporterHTTP2ReadIdleTimeout time.Duration
	ExporterHTTP2PingTimeout     time.Duration

	// Exporter circuit breaker
	CircuitBreakerEnabled      bool
	CircuitBreakerThreshold    int
	CircuitBreakerResetTimeout time.Duration

	// Retry policy shared by both signals
	RetryMaxAttempts       int
	RetryInitialBackoff    time.Duration
	RetryMaxBackoff        time.Duration
	RetryBackoffMultiplier float64
	RetryMaxElapsed        time.Duration

	// Span processor
	SpanQueueSize     int
	SpanBatchSize     int
	SpanScheduleDelay time.Duration
	SpanExportTimeout time.Duration
	SampleRatio       float64

	// Log record processor
	LogQueueSize     int
	LogBatchSize     int
	LogScheduleDelay time.Duration
	LogExportTimeout time.Duration

	// Synthetic load
	LoadEnabled    bool
	LoadWorkers    int
	LoadInterval   time.Duration
	LoadRequests   int
	LoadFanout     int
	LoadErrorRate  float64
	LoadMaxLatency time.Duration
	LoadDuration   time.Duration // zero runs until shutdown
	LoadOperations string        // comma separated span names

	// Self-telemetry
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryPushInterval    time.Duration
	TelemetryShutdownTimeout time.Duration

	ShowHelp    bool
	ShowVersion bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	b := batch.DefaultConfig()
	r := retry.DefaultPolicy()
	l := loadgen.DefaultConfig()
	return &Config{
		ServiceName:      "telemetry-shipper",
		LogLevel:         "info",
		ListenAddr:       ":9090",
		MemoryLimitRatio: 0.9,
		ShutdownTimeout:  30 * time.Second,

		ExporterEndpoint:   "localhost:4317",
		ExporterProtocol:   string(sender.ProtocolGRPC),
		ExporterInsecure:   true,
		ExporterTimeout:    10 * time.Second,
		ExporterTracesPath: "/v1/traces",
		ExporterLogsPath:   "/v1/logs",

		ExporterCompression:         string(compression.TypeNone),
		ExporterMaxIdleConns:        100,
		ExporterMaxIdleConnsPerHost: 100,
		ExporterIdleConnTimeout:     90 * time.Second,

		CircuitBreakerThreshold:    5,
		CircuitBreakerResetTimeout: 30 * time.Second,

		RetryMaxAttempts:       r.MaxAttempts,
		RetryInitialBackoff:    r.InitialBackoff,
		RetryMaxBackoff:        r.MaxBackoff,
		RetryBackoffMultiplier: r.BackoffMultiplier,
		RetryMaxElapsed:        r.MaxElapsed,

		SpanQueueSize:     b.MaxQueueSize,
		SpanBatchSize:     b.MaxExportBatchSize,
		SpanScheduleDelay: b.ScheduleDelay,
		SpanExportTimeout: b.ExporterTimeout,
		SampleRatio:       1,

		LogQueueSize:     b.MaxQueueSize,
		LogBatchSize:     b.MaxExportBatchSize,
		LogScheduleDelay: time.Second,
		LogExportTimeout: b.ExporterTimeout,

		LoadWorkers:    l.Workers,
		LoadInterval:   l.Interval,
		LoadFanout:     l.Fanout,
		LoadErrorRate:  l.ErrorRate,
		LoadMaxLatency: l.MaxLatency,
		LoadOperations: strings.Join(l.Operations, ","),

		TelemetryProtocol:        string(sender.ProtocolGRPC),
		TelemetryInsecure:        true,
		TelemetryPushInterval:    30 * time.Second,
		TelemetryShutdownTimeout: 5 * time.Second,
	}
}

// registerFlags binds every flag to a field of cfg and returns the -config
// destination.
func registerFlags(fs *flag.FlagSet, cfg *Config) *string {
	configFile := fs.String("config", "", "Path to YAML configuration file")

	fs.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "service.name of the shipped resource")
	fs.StringVar(&cfg.ResourceAttributes, "resource-attributes", cfg.ResourceAttributes, "Extra resource attributes (format: key1=value1,key2=value2)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level: debug, info, warn, error")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Address for /metrics, /live and /ready")
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of the container memory limit used for GOMEMLIMIT (0 disables)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for flushing on shutdown")

	fs.StringVar(&cfg.ExporterEndpoint, "exporter-endpoint", cfg.ExporterEndpoint, "OTLP collector endpoint (host:port or URL)")
	fs.StringVar(&cfg.ExporterProtocol, "exporter-protocol", cfg.ExporterProtocol, "Exporter protocol: grpc or http")
	fs.BoolVar(&cfg.ExporterInsecure, "exporter-insecure", cfg.ExporterInsecure, "Use a plaintext connection")
	fs.DurationVar(&cfg.ExporterTimeout, "exporter-timeout", cfg.ExporterTimeout, "Per-request timeout")
	fs.StringVar(&cfg.ExporterTracesPath, "exporter-traces-path", cfg.ExporterTracesPath, "HTTP path for spans when the endpoint has none")
	fs.StringVar(&cfg.ExporterLogsPath, "exporter-logs-path", cfg.ExporterLogsPath, "HTTP path for log records when the endpoint has none")

	fs.BoolVar(&cfg.ExporterTLSEnabled, "exporter-tls-enabled", cfg.ExporterTLSEnabled, "Enable custom TLS config for the exporter")
	fs.StringVar(&cfg.ExporterTLSCertFile, "exporter-tls-cert", cfg.ExporterTLSCertFile, "Path to client certificate file (mTLS)")
	fs.StringVar(&cfg.ExporterTLSKeyFile, "exporter-tls-key", cfg.ExporterTLSKeyFile, "Path to client private key file (mTLS)")
	fs.StringVar(&cfg.ExporterTLSCAFile, "exporter-tls-ca", cfg.ExporterTLSCAFile, "Path to CA certificate for server verification")
	fs.BoolVar(&cfg.ExporterTLSInsecureSkipVerify, "exporter-tls-skip-verify", cfg.ExporterTLSInsecureSkipVerify, "Skip TLS certificate verification")
	fs.StringVar(&cfg.ExporterTLSServerName, "exporter-tls-server-name", cfg.ExporterTLSServerName, "Override server name for TLS verification")

	fs.StringVar(&cfg.ExporterAuthBearerToken, "exporter-auth-bearer-token", cfg.ExporterAuthBearerToken, "Bearer token for the collector")
	fs.StringVar(&cfg.ExporterAuthBasicUsername, "exporter-auth-basic-username", cfg.ExporterAuthBasicUsername, "Basic auth username")
	fs.StringVar(&cfg.ExporterAuthBasicPassword, "exporter-auth-basic-password", cfg.ExporterAuthBasicPassword, "Basic auth password")
	fs.StringVar(&cfg.ExporterAuthHeaders, "exporter-auth-headers", cfg.ExporterAuthHeaders, "Custom headers (format: key1=value1,key2=value2)")

	fs.StringVar(&cfg.ExporterCompression, "exporter-compression", cfg.ExporterCompression, "HTTP body compression: none, gzip, zstd, snappy, zlib, deflate, lz4")
	fs.IntVar(&cfg.ExporterCompressionLevel, "exporter-compression-level", cfg.ExporterCompressionLevel, "Compression level (1 fastest to 9 best, 0 default)")

	fs.IntVar(&cfg.ExporterMaxIdleConns, "exporter-max-idle-conns", cfg.ExporterMaxIdleConns, "Maximum idle connections across all hosts")
	fs.IntVar(&cfg.ExporterMaxIdleConnsPerHost, "exporter-max-idle-conns-per-host", cfg.ExporterMaxIdleConnsPerHost, "Maximum idle connections per host")
	fs.IntVar(&cfg.ExporterMaxConnsPerHost, "exporter-max-conns-per-host", cfg.ExporterMaxConnsPerHost, "Maximum connections per host (0 = no limit)")
	fs.DurationVar(&cfg.ExporterIdleConnTimeout, "exporter-idle-conn-timeout", cfg.ExporterIdleConnTimeout, "Idle connection timeout")
	fs.BoolVar(&cfg.ExporterDisableKeepAlives, "exporter-disable-keep-alives", cfg.ExporterDisableKeepAlives, "Disable HTTP keep-alives")
	fs.BoolVar(&cfg.ExporterForceHTTP2, "exporter-force-http2", cfg.ExporterForceHTTP2, "Force HTTP/2 for non-TLS connections")
	fs.DurationVar(&cfg.ExporterHTTP2ReadIdleTimeout, "exporter-http2-read-idle-timeout", cfg.ExporterHTTP2ReadIdleTimeout, "HTTP/2 read idle timeout for health checks")
	fs.DurationVar(&cfg.ExporterHTTP2PingTimeout, "exporter-http2-ping-timeout", cfg.ExporterHTTP2PingTimeout, "HTTP/2 ping timeout")

	fs.BoolVar(&cfg.CircuitBreakerEnabled, "exporter-circuit-breaker", cfg.CircuitBreakerEnabled, "Fail exports fast after consecutive failures")
	fs.IntVar(&cfg.CircuitBreakerThreshold, "exporter-circuit-breaker-threshold", cfg.CircuitBreakerThreshold, "Consecutive failures that open the circuit")
	fs.DurationVar(&cfg.CircuitBreakerResetTimeout, "exporter-circuit-breaker-reset-timeout", cfg.CircuitBreakerResetTimeout, "Time before a probe export is let through")

	fs.IntVar(&cfg.RetryMaxAttempts, "retry-max-attempts", cfg.RetryMaxAttempts, "Total send attempts per batch, the first included")
	fs.DurationVar(&cfg.RetryInitialBackoff, "retry-initial-backoff", cfg.RetryInitialBackoff, "Backoff magnitude before the second attempt")
	fs.DurationVar(&cfg.RetryMaxBackoff, "retry-max-backoff", cfg.RetryMaxBackoff, "Backoff magnitude cap")
	fs.Float64Var(&cfg.RetryBackoffMultiplier, "retry-backoff-multiplier", cfg.RetryBackoffMultiplier, "Backoff growth per attempt (> 1)")
	fs.DurationVar(&cfg.RetryMaxElapsed, "retry-max-elapsed", cfg.RetryMaxElapsed, "Stop retrying after this much time (0 = no bound)")

	fs.IntVar(&cfg.SpanQueueSize, "span-queue-size", cfg.SpanQueueSize, "Span queue capacity; spans beyond it are dropped")
	fs.IntVar(&cfg.SpanBatchSize, "span-batch-size", cfg.SpanBatchSize, "Spans per export batch")
	fs.DurationVar(&cfg.SpanScheduleDelay, "span-schedule-delay", cfg.SpanScheduleDelay, "Maximum wait before a partial span batch is exported")
	fs.DurationVar(&cfg.SpanExportTimeout, "span-export-timeout", cfg.SpanExportTimeout, "Timeout of one span export")
	fs.Float64Var(&cfg.SampleRatio, "sample-ratio", cfg.SampleRatio, "Fraction of new traces that are sampled (0 to 1)")

	fs.IntVar(&cfg.LogQueueSize, "log-queue-size", cfg.LogQueueSize, "Log record queue capacity")
	fs.IntVar(&cfg.LogBatchSize, "log-batch-size", cfg.LogBatchSize, "Log records per export batch")
	fs.DurationVar(&cfg.LogScheduleDelay, "log-schedule-delay", cfg.LogScheduleDelay, "Maximum wait before a partial log batch is exported")
	fs.DurationVar(&cfg.LogExportTimeout, "log-export-timeout", cfg.LogExportTimeout, "Timeout of one log export")

	fs.BoolVar(&cfg.LoadEnabled, "load-enabled", cfg.LoadEnabled, "Generate a synthetic span and log workload")
	fs.IntVar(&cfg.LoadWorkers, "load-workers", cfg.LoadWorkers, "Concurrent request loops")
	fs.DurationVar(&cfg.LoadInterval, "load-interval", cfg.LoadInterval, "Pause between requests of one worker")
	fs.IntVar(&cfg.LoadRequests, "load-requests", cfg.LoadRequests, "Requests per worker (0 = until shutdown)")
	fs.IntVar(&cfg.LoadFanout, "load-fanout", cfg.LoadFanout, "Child calls per request")
	fs.Float64Var(&cfg.LoadErrorRate, "load-error-rate", cfg.LoadErrorRate, "Probability that a child call fails")
	fs.DurationVar(&cfg.LoadMaxLatency, "load-max-latency", cfg.LoadMaxLatency, "Upper bound of simulated child call latency")
	fs.DurationVar(&cfg.LoadDuration, "load-duration", cfg.LoadDuration, "Stop generating after this long (0 = until shutdown)")
	fs.StringVar(&cfg.LoadOperations, "load-operations", cfg.LoadOperations, "Comma separated server span names")

	fs.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "OTLP endpoint for self-telemetry (empty disables)")
	fs.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "Self-telemetry protocol: grpc or http")
	fs.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Plaintext connection for self-telemetry")
	fs.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Self-telemetry metric push interval")
	fs.DurationVar(&cfg.TelemetryShutdownTimeout, "telemetry-shutdown-timeout", cfg.TelemetryShutdownTimeout, "Self-telemetry flush timeout on shutdown")

	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	return configFile
}

// ParseFlags resolves the configuration from os.Args.
func ParseFlags() (*Config, error) {
	return Load(os.Args[1:], os.Stderr)
}

// Load resolves the configuration from args. Flags set explicitly in args
// override values from the -config file, which override the defaults.
// Usage is written to out on parse errors.
func Load(args []string, out io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("telemetry-shipper", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { PrintUsage(out) }
	configFile := registerFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *configFile == "" {
		return cfg, nil
	}

	y, err := LoadYAML(*configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config file %s: %w", *configFile, err)
	}
	merged := y.ToConfig()

	// Re-apply explicit flags on top of the file.
	overrides := flag.NewFlagSet("overrides", flag.ContinueOnError)
	overrides.SetOutput(io.Discard)
	registerFlags(overrides, merged)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if setErr == nil {
			setErr = overrides.Set(f.Name, f.Value.String())
		}
	})
	if setErr != nil {
		return nil, setErr
	}
	merged.ShowHelp, merged.ShowVersion = cfg.ShowHelp, cfg.ShowVersion
	return merged, nil
}

// PrintUsage prints the help message with default values.
func PrintUsage(w io.Writer) {
	fs := flag.NewFlagSet("telemetry-shipper", flag.ContinueOnError)
	fs.SetOutput(w)
	registerFlags(fs, DefaultConfig())
	fmt.Fprintf(w, `telemetry-shipper - asynchronous span and log delivery to an OTLP collector

USAGE:
    telemetry-shipper [OPTIONS]

    Settings resolve from defaults, then the -config YAML file, then flags
    given on the command line.

OPTIONS:
`)
	fs.PrintDefaults()
}

// PrintVersion prints the version.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "telemetry-shipper version %s\n", version)
}

// parsePairs splits key1=value1,key2=value2. Entries without '=' are
// skipped.
func parsePairs(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && strings.TrimSpace(kv[0]) != "" {
			out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Resource returns the resource attached to every shipped batch.
func (c *Config) Resource() record.Resource {
	pairs := parsePairs(c.ResourceAttributes)
	res := record.Resource{ServiceName: c.ServiceName}
	for _, k := range slices.Sorted(maps.Keys(pairs)) {
		res.Attributes = append(res.Attributes, attribute.String(k, pairs[k]))
	}
	return res
}

// ExporterTLSConfig returns the TLS configuration for the exporter.
func (c *Config) ExporterTLSConfig() tlspkg.ClientConfig {
	return tlspkg.ClientConfig{
		Enabled:            c.ExporterTLSEnabled,
		CertFile:           c.ExporterTLSCertFile,
		KeyFile:            c.ExporterTLSKeyFile,
		CAFile:             c.ExporterTLSCAFile,
		InsecureSkipVerify: c.ExporterTLSInsecureSkipVerify,
		ServerName:         c.ExporterTLSServerName,
	}
}

// ExporterAuthConfig returns the auth configuration for the exporter.
func (c *Config) ExporterAuthConfig() auth.ClientConfig {
	return auth.ClientConfig{
		BearerToken:       c.ExporterAuthBearerToken,
		BasicAuthUsername: c.ExporterAuthBasicUsername,
		BasicAuthPassword: c.ExporterAuthBasicPassword,
		Headers:           parsePairs(c.ExporterAuthHeaders),
	}
}

// ExporterCompressionConfig returns the body compression for the HTTP
// sender. Unknown types are rejected by Validate.
func (c *Config) ExporterCompressionConfig() compression.Config {
	t, _ := compression.ParseType(c.ExporterCompression)
	return compression.Config{Type: t, Level: compression.Level(c.ExporterCompressionLevel)}
}

// ExporterHTTPClientConfig returns the HTTP connection pool settings.
func (c *Config) ExporterHTTPClientConfig() sender.HTTPClientConfig {
	return sender.HTTPClientConfig{
		MaxIdleConns:         c.ExporterMaxIdleConns,
		MaxIdleConnsPerHost:  c.ExporterMaxIdleConnsPerHost,
		MaxConnsPerHost:      c.ExporterMaxConnsPerHost,
		IdleConnTimeout:      c.ExporterIdleConnTimeout,
		DisableKeepAlives:    c.ExporterDisableKeepAlives,
		ForceAttemptHTTP2:    c.ExporterForceHTTP2,
		HTTP2ReadIdleTimeout: c.ExporterHTTP2ReadIdleTimeout,
		HTTP2PingTimeout:     c.ExporterHTTP2PingTimeout,
	}
}

// SenderConfig returns the transport configuration for one signal.
func (c *Config) SenderConfig(signal Signal) sender.Config {
	cfg := sender.Config{
		Endpoint:    c.ExporterEndpoint,
		Protocol:    sender.Protocol(strings.ToLower(c.ExporterProtocol)),
		Insecure:    c.ExporterInsecure,
		Timeout:     c.ExporterTimeout,
		Path:        c.ExporterTracesPath,
		Method:      sender.TracesMethod,
		TLS:         c.ExporterTLSConfig(),
		Auth:        c.ExporterAuthConfig(),
		Compression: c.ExporterCompressionConfig(),
		HTTPClient:  c.ExporterHTTPClientConfig(),
	}
	if signal == SignalLogs {
		cfg.Path = c.ExporterLogsPath
		cfg.Method = sender.LogsMethod
	}
	return cfg
}

// RetryPolicy returns the delivery retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.RetryMaxAttempts,
		InitialBackoff:    c.RetryInitialBackoff,
		MaxBackoff:        c.RetryMaxBackoff,
		BackoffMultiplier: c.RetryBackoffMultiplier,
		MaxElapsed:        c.RetryMaxElapsed,
	}
}

// ExporterConfig returns the exporter configuration for one signal.
func (c *Config) ExporterConfig(signal Signal) exporter.Config {
	return exporter.Config{
		Name:     string(signal),
		Resource: c.Resource(),
		Retry:    c.RetryPolicy(),
		Breaker: exporter.BreakerConfig{
			Enabled:          c.CircuitBreakerEnabled,
			FailureThreshold: c.CircuitBreakerThreshold,
			ResetTimeout:     c.CircuitBreakerResetTimeout,
		},
	}
}

// SpanBatchConfig returns the span processor tuning.
func (c *Config) SpanBatchConfig() batch.Config {
	b := batch.DefaultConfig()
	b.MaxQueueSize = c.SpanQueueSize
	b.MaxExportBatchSize = c.SpanBatchSize
	b.ScheduleDelay = c.SpanScheduleDelay
	b.ExporterTimeout = c.SpanExportTimeout
	return b
}

// LogBatchConfig returns the log record processor tuning.
func (c *Config) LogBatchConfig() batch.Config {
	b := batch.DefaultConfig()
	b.MaxQueueSize = c.LogQueueSize
	b.MaxExportBatchSize = c.LogBatchSize
	b.ScheduleDelay = c.LogScheduleDelay
	b.ExporterTimeout = c.LogExportTimeout
	return b
}

// Sampler returns the root span sampler.
func (c *Config) Sampler() tracing.Sampler {
	return tracing.TraceIDRatio(c.SampleRatio)
}

// LoadConfig returns the synthetic workload configuration.
func (c *Config) LoadConfig() loadgen.Config {
	return loadgen.Config{
		Workers:    c.LoadWorkers,
		Interval:   c.LoadInterval,
		Requests:   c.LoadRequests,
		Fanout:     c.LoadFanout,
		ErrorRate:  c.LoadErrorRate,
		MaxLatency: c.LoadMaxLatency,
		Operations: splitList(c.LoadOperations),
	}
}

// TelemetryConfig returns the self-telemetry configuration. It reuses the
// exporter auth headers and retry policy.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        c.TelemetryEndpoint,
		Protocol:        sender.Protocol(strings.ToLower(c.TelemetryProtocol)),
		Insecure:        c.TelemetryInsecure,
		Timeout:         c.ExporterTimeout,
		PushInterval:    c.TelemetryPushInterval,
		ShutdownTimeout: c.TelemetryShutdownTimeout,
		Headers:         parsePairs(c.ExporterAuthHeaders),
		Retry:           c.RetryPolicy(),
	}
}

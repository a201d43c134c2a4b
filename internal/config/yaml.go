package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szibis/telemetry-shipper/internal/auth"
	"github.com/szibis/telemetry-shipper/internal/compression"
	tlspkg "github.com/szibis/telemetry-shipper/internal/tls"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Service          ServiceYAMLConfig   `yaml:"service"`
	LogLevel         string              `yaml:"log_level"`
	Listen           string              `yaml:"listen"`
	MemoryLimitRatio *float64            `yaml:"memory_limit_ratio"`
	ShutdownTimeout  Duration            `yaml:"shutdown_timeout"`
	Exporter         ExporterYAMLConfig  `yaml:"exporter"`
	Retry            RetryYAMLConfig     `yaml:"retry"`
	Spans            ProcessorYAMLConfig `yaml:"spans"`
	Logs             ProcessorYAMLConfig `yaml:"logs"`
	Load             LoadYAMLConfig      `yaml:"load"`
	Telemetry        TelemetryYAMLConfig `yaml:"telemetry"`
}

// ServiceYAMLConfig identifies the shipped resource.
type ServiceYAMLConfig struct {
	Name               string            `yaml:"name"`
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

// ExporterYAMLConfig holds exporter configuration.
type ExporterYAMLConfig struct {
	Endpoint       string                   `yaml:"endpoint"`
	Protocol       string                   `yaml:"protocol"`
	Insecure       *bool                    `yaml:"insecure"`
	Timeout        Duration                 `yaml:"timeout"`
	TracesPath     string                   `yaml:"traces_path"`
	LogsPath       string                   `yaml:"logs_path"`
	TLS            tlspkg.ClientConfig      `yaml:"tls"`
	Auth           auth.ClientConfig        `yaml:"auth"`
	Compression    compression.Config       `yaml:"compression"`
	HTTPClient     HTTPClientYAMLConfig     `yaml:"http_client"`
	CircuitBreaker CircuitBreakerYAMLConfig `yaml:"circuit_breaker"`
}

// HTTPClientYAMLConfig holds HTTP connection pool settings.
type HTTPClientYAMLConfig struct {
	MaxIdleConns         int      `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost  int      `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost      int      `yaml:"max_conns_per_host"`
	IdleConnTimeout      Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives    bool     `yaml:"disable_keep_alives"`
	ForceAttemptHTTP2    bool     `yaml:"force_attempt_http2"`
	HTTP2ReadIdleTimeout Duration `yaml:"http2_read_idle_timeout"`
	HTTP2PingTimeout     Duration `yaml:"http2_ping_timeout"`
}

// CircuitBreakerYAMLConfig holds circuit breaker settings.
type CircuitBreakerYAMLConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Threshold    int      `yaml:"threshold"`
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// RetryYAMLConfig holds the delivery retry policy.
type RetryYAMLConfig struct {
	MaxAttempts       int      `yaml:"max_attempts"`
	InitialBackoff    Duration `yaml:"initial_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	MaxElapsed        Duration `yaml:"max_elapsed"`
}

// ProcessorYAMLConfig holds batch processor tuning for one signal.
// SampleRatio only applies to spans.
type ProcessorYAMLConfig struct {
	QueueSize     int      `yaml:"queue_size"`
	BatchSize     int      `yaml:"batch_size"`
	ScheduleDelay Duration `yaml:"schedule_delay"`
	ExportTimeout Duration `yaml:"export_timeout"`
	SampleRatio   *float64 `yaml:"sample_ratio"`
}

// LoadYAMLConfig holds synthetic workload settings.
type LoadYAMLConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Workers    int      `yaml:"workers"`
	Interval   Duration `yaml:"interval"`
	Requests   int      `yaml:"requests"`
	Fanout     *int     `yaml:"fanout"`
	ErrorRate  *float64 `yaml:"error_rate"`
	MaxLatency Duration `yaml:"max_latency"`
	Duration   Duration `yaml:"duration"`
	Operations []string `yaml:"operations"`
}

// TelemetryYAMLConfig holds OTLP self-telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint        string   `yaml:"endpoint"` // empty = disabled
	Protocol        string   `yaml:"protocol"`
	Insecure        *bool    `yaml:"insecure"`
	PushInterval    Duration `yaml:"push_interval"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes. Unknown keys are errors.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ToConfig overlays the values present in the file on DefaultConfig.
func (y *YAMLConfig) ToConfig() *Config {
	c := DefaultConfig()

	setString(&c.ServiceName, y.Service.Name)
	if len(y.Service.ResourceAttributes) > 0 {
		pairs := make([]string, 0, len(y.Service.ResourceAttributes))
		for k, v := range y.Service.ResourceAttributes {
			pairs = append(pairs, k+"="+v)
		}
		c.ResourceAttributes = strings.Join(pairs, ",")
	}
	setString(&c.LogLevel, y.LogLevel)
	setString(&c.ListenAddr, y.Listen)
	setPtr(&c.MemoryLimitRatio, y.MemoryLimitRatio)
	setDuration(&c.ShutdownTimeout, y.ShutdownTimeout)

	e := y.Exporter
	setString(&c.ExporterEndpoint, e.Endpoint)
	setString(&c.ExporterProtocol, e.Protocol)
	setPtr(&c.ExporterInsecure, e.Insecure)
	setDuration(&c.ExporterTimeout, e.Timeout)
	setString(&c.ExporterTracesPath, e.TracesPath)
	setString(&c.ExporterLogsPath, e.LogsPath)

	c.ExporterTLSEnabled = e.TLS.Enabled
	c.ExporterTLSCertFile = e.TLS.CertFile
	c.ExporterTLSKeyFile = e.TLS.KeyFile
	c.ExporterTLSCAFile = e.TLS.CAFile
	c.ExporterTLSInsecureSkipVerify = e.TLS.InsecureSkipVerify
	c.ExporterTLSServerName = e.TLS.ServerName

	c.ExporterAuthBearerToken = e.Auth.BearerToken
	c.ExporterAuthBasicUsername = e.Auth.BasicAuthUsername
	c.ExporterAuthBasicPassword = e.Auth.BasicAuthPassword
	if len(e.Auth.Headers) > 0 {
		pairs := make([]string, 0, len(e.Auth.Headers))
		for k, v := range e.Auth.Headers {
			pairs = append(pairs, k+"="+v)
		}
		c.ExporterAuthHeaders = strings.Join(pairs, ",")
	}

	setString(&c.ExporterCompression, string(e.Compression.Type))
	setInt(&c.ExporterCompressionLevel, int(e.Compression.Level))

	h := e.HTTPClient
	setInt(&c.ExporterMaxIdleConns, h.MaxIdleConns)
	setInt(&c.ExporterMaxIdleConnsPerHost, h.MaxIdleConnsPerHost)
	setInt(&c.ExporterMaxConnsPerHost, h.MaxConnsPerHost)
	setDuration(&c.ExporterIdleConnTimeout, h.IdleConnTimeout)
	c.ExporterDisableKeepAlives = h.DisableKeepAlives
	c.ExporterForceHTTP2 = h.ForceAttemptHTTP2
	setDuration(&c.ExporterHTTP2ReadIdleTimeout, h.HTTP2ReadIdleTimeout)
	setDuration(&c.ExporterHTTP2PingTimeout, h.HTTP2PingTimeout)

	c.CircuitBreakerEnabled = e.CircuitBreaker.Enabled
	setInt(&c.CircuitBreakerThreshold, e.CircuitBreaker.Threshold)
	setDuration(&c.CircuitBreakerResetTimeout, e.CircuitBreaker.ResetTimeout)

	setInt(&c.RetryMaxAttempts, y.Retry.MaxAttempts)
	setDuration(&c.RetryInitialBackoff, y.Retry.InitialBackoff)
	setDuration(&c.RetryMaxBackoff, y.Retry.MaxBackoff)
	if y.Retry.BackoffMultiplier != 0 {
		c.RetryBackoffMultiplier = y.Retry.BackoffMultiplier
	}
	setDuration(&c.RetryMaxElapsed, y.Retry.MaxElapsed)

	setInt(&c.SpanQueueSize, y.Spans.QueueSize)
	setInt(&c.SpanBatchSize, y.Spans.BatchSize)
	setDuration(&c.SpanScheduleDelay, y.Spans.ScheduleDelay)
	setDuration(&c.SpanExportTimeout, y.Spans.ExportTimeout)
	setPtr(&c.SampleRatio, y.Spans.SampleRatio)

	setInt(&c.LogQueueSize, y.Logs.QueueSize)
	setInt(&c.LogBatchSize, y.Logs.BatchSize)
	setDuration(&c.LogScheduleDelay, y.Logs.ScheduleDelay)
	setDuration(&c.LogExportTimeout, y.Logs.ExportTimeout)

	l := y.Load
	c.LoadEnabled = l.Enabled
	setInt(&c.LoadWorkers, l.Workers)
	setDuration(&c.LoadInterval, l.Interval)
	setInt(&c.LoadRequests, l.Requests)
	setPtr(&c.LoadFanout, l.Fanout)
	setPtr(&c.LoadErrorRate, l.ErrorRate)
	setDuration(&c.LoadMaxLatency, l.MaxLatency)
	setDuration(&c.LoadDuration, l.Duration)
	if len(l.Operations) > 0 {
		c.LoadOperations = strings.Join(l.Operations, ",")
	}

	t := y.Telemetry
	setString(&c.TelemetryEndpoint, t.Endpoint)
	setString(&c.TelemetryProtocol, t.Protocol)
	setPtr(&c.TelemetryInsecure, t.Insecure)
	setDuration(&c.TelemetryPushInterval, t.PushInterval)
	setDuration(&c.TelemetryShutdownTimeout, t.ShutdownTimeout)

	return c
}

// YAML returns the file form of c. Feeding it back through ToConfig
// yields c again.
func (c *Config) YAML() *YAMLConfig {
	return &YAMLConfig{
		Service: ServiceYAMLConfig{
			Name:               c.ServiceName,
			ResourceAttributes: parsePairs(c.ResourceAttributes),
		},
		LogLevel:         c.LogLevel,
		Listen:           c.ListenAddr,
		MemoryLimitRatio: ptr(c.MemoryLimitRatio),
		ShutdownTimeout:  Duration(c.ShutdownTimeout),
		Exporter: ExporterYAMLConfig{
			Endpoint:    c.ExporterEndpoint,
			Protocol:    c.ExporterProtocol,
			Insecure:    ptr(c.ExporterInsecure),
			Timeout:     Duration(c.ExporterTimeout),
			TracesPath:  c.ExporterTracesPath,
			LogsPath:    c.ExporterLogsPath,
			TLS:         c.ExporterTLSConfig(),
			Auth:        c.ExporterAuthConfig(),
			Compression: compression.Config{Type: compression.Type(c.ExporterCompression), Level: compression.Level(c.ExporterCompressionLevel)},
			HTTPClient: HTTPClientYAMLConfig{
				MaxIdleConns:         c.ExporterMaxIdleConns,
				MaxIdleConnsPerHost:  c.ExporterMaxIdleConnsPerHost,
				MaxConnsPerHost:      c.ExporterMaxConnsPerHost,
				IdleConnTimeout:      Duration(c.ExporterIdleConnTimeout),
				DisableKeepAlives:    c.ExporterDisableKeepAlives,
				ForceAttemptHTTP2:    c.ExporterForceHTTP2,
				HTTP2ReadIdleTimeout: Duration(c.ExporterHTTP2ReadIdleTimeout),
				HTTP2PingTimeout:     Duration(c.ExporterHTTP2PingTimeout),
			},
			CircuitBreaker: CircuitBreakerYAMLConfig{
				Enabled:      c.CircuitBreakerEnabled,
				Threshold:    c.CircuitBreakerThreshold,
				ResetTimeout: Duration(c.CircuitBreakerResetTimeout),
			},
		},
		Retry: RetryYAMLConfig{
			MaxAttempts:       c.RetryMaxAttempts,
			InitialBackoff:    Duration(c.RetryInitialBackoff),
			MaxBackoff:        Duration(c.RetryMaxBackoff),
			BackoffMultiplier: c.RetryBackoffMultiplier,
			MaxElapsed:        Duration(c.RetryMaxElapsed),
		},
		Spans: ProcessorYAMLConfig{
			QueueSize:     c.SpanQueueSize,
			BatchSize:     c.SpanBatchSize,
			ScheduleDelay: Duration(c.SpanScheduleDelay),
			ExportTimeout: Duration(c.SpanExportTimeout),
			SampleRatio:   ptr(c.SampleRatio),
		},
		Logs: ProcessorYAMLConfig{
			QueueSize:     c.LogQueueSize,
			BatchSize:     c.LogBatchSize,
			ScheduleDelay: Duration(c.LogScheduleDelay),
			ExportTimeout: Duration(c.LogExportTimeout),
		},
		Load: LoadYAMLConfig{
			Enabled:    c.LoadEnabled,
			Workers:    c.LoadWorkers,
			Interval:   Duration(c.LoadInterval),
			Requests:   c.LoadRequests,
			Fanout:     ptr(c.LoadFanout),
			ErrorRate:  ptr(c.LoadErrorRate),
			MaxLatency: Duration(c.LoadMaxLatency),
			Duration:   Duration(c.LoadDuration),
			Operations: splitList(c.LoadOperations),
		},
		Telemetry: TelemetryYAMLConfig{
			Endpoint:        c.TelemetryEndpoint,
			Protocol:        c.TelemetryProtocol,
			Insecure:        ptr(c.TelemetryInsecure),
			PushInterval:    Duration(c.TelemetryPushInterval),
			ShutdownTimeout: Duration(c.TelemetryShutdownTimeout),
		},
	}
}

// Marshal renders the file form of c.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.YAML()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ptr[T any](v T) *T { return &v }

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

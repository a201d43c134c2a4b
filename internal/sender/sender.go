// Package sender moves pre-encoded OTLP request bodies to a collector over
// HTTP or gRPC.
//
// A Sender is asynchronous: Send returns immediately and exactly one of the
// callbacks runs later on a sender goroutine. A Response is whatever the
// collector answered, successful or not; transport failures that produced
// no answer go to onError as *ExportError. Retrying is layered on top with
// retry.Delivery, using IsRetryable and IsRetryableError as predicates.
package sender

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"

	"github.com/szibis/telemetry-shipper/internal/auth"
	"github.com/szibis/telemetry-shipper/internal/compression"
	"github.com/szibis/telemetry-shipper/internal/retry"
	tlspkg "github.com/szibis/telemetry-shipper/internal/tls"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_sender_requests_total",
		Help: "Requests sent to the collector by protocol and outcome (success, rejected, error)",
	}, []string{"protocol", "outcome"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_sender_errors_total",
		Help: "Failed or rejected requests by protocol and error type",
	}, []string{"protocol", "error_type"})

	bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_sender_bytes_total",
		Help: "Request body bytes written to the wire by protocol and compression",
	}, []string{"protocol", "compression"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemetry_shipper_sender_request_duration_seconds",
		Help:    "Duration of a single request to the collector",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol"})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(errorsTotal)
	prometheus.MustRegister(bytesTotal)
	prometheus.MustRegister(requestDuration)
}

// Protocol selects the transport.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http"
)

// HTTPClientConfig holds HTTP connection pool settings.
type HTTPClientConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives   bool          `yaml:"disable_keep_alives"`
	ForceAttemptHTTP2   bool          `yaml:"force_attempt_http2"`
	// HTTP2ReadIdleTimeout enables HTTP/2 health-check pings after this
	// much silence on a connection.
	HTTP2ReadIdleTimeout time.Duration `yaml:"http2_read_idle_timeout"`
	HTTP2PingTimeout     time.Duration `yaml:"http2_ping_timeout"`
}

// Config configures one sender. Path applies to HTTP and Method to gRPC;
// the exporter fills both for its signal.
type Config struct {
	Endpoint    string
	Protocol    Protocol
	Insecure    bool
	Timeout     time.Duration
	Path        string
	Method      string
	TLS         tlspkg.ClientConfig
	Auth        auth.ClientConfig
	Compression compression.Config
	HTTPClient  HTTPClientConfig
}

// Response is the collector's answer to one request.
type Response struct {
	Protocol Protocol
	// StatusCode is the HTTP status; 0 for gRPC.
	StatusCode int
	// Code is the gRPC status; codes.OK for HTTP.
	Code    codes.Code
	Message string
	Body    []byte
}

// Success reports a 2xx HTTP status or gRPC OK.
func (r *Response) Success() bool {
	if r == nil {
		return false
	}
	if r.Protocol == ProtocolGRPC {
		return r.Code == codes.OK
	}
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Retryable reports a rejection the collector marks as transient.
func (r *Response) Retryable() bool {
	if r == nil || r.Success() {
		return false
	}
	if r.Protocol == ProtocolGRPC {
		return retryableGRPCCode(r.Code)
	}
	return retryableHTTPStatus(r.StatusCode)
}

// Err returns nil for a successful response and an *ExportError otherwise.
func (r *Response) Err() error {
	if r.Success() {
		return nil
	}
	if r == nil {
		return &ExportError{Type: ErrorTypeUnknown, Message: "no response"}
	}
	ee := &ExportError{Protocol: r.Protocol, StatusCode: r.StatusCode, Code: r.Code, Message: r.Message}
	if r.Protocol == ProtocolGRPC {
		ee.Type = classifyGRPCCode(r.Code)
	} else {
		ee.Type = classifyHTTPStatusCode(r.StatusCode)
	}
	return ee
}

// Sender is a closable retry.Sender with the response predicates the
// retry policy needs.
type Sender interface {
	retry.Sender[*Response]
	IsSuccess(*Response) bool
	IsRetryable(*Response) bool
	// Close rejects new sends, waits for in-flight requests and releases
	// connections.
	Close() error
}

// New builds the sender for cfg.Protocol, gRPC by default.
func New(cfg Config) (Sender, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	switch cfg.Protocol {
	case "", ProtocolGRPC:
		return NewGRPC(cfg)
	case ProtocolHTTP:
		return NewHTTP(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}

type predicates struct{}

func (predicates) IsSuccess(r *Response) bool   { return r.Success() }
func (predicates) IsRetryable(r *Response) bool { return r.Retryable() }

func record(p Protocol, compressionLabel string, size int, started time.Time, resp *Response, err error) {
	requestDuration.WithLabelValues(string(p)).Observe(time.Since(started).Seconds())
	switch {
	case err != nil:
		requestsTotal.WithLabelValues(string(p), "error").Inc()
		errorsTotal.WithLabelValues(string(p), string(errorType(err))).Inc()
	case !resp.Success():
		requestsTotal.WithLabelValues(string(p), "rejected").Inc()
		errorsTotal.WithLabelValues(string(p), string(errorType(resp.Err()))).Inc()
	default:
		requestsTotal.WithLabelValues(string(p), "success").Inc()
		bytesTotal.WithLabelValues(string(p), compressionLabel).Add(float64(size))
	}
}

func errorType(err error) ErrorType {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Type
	}
	return classifyError(err)
}

// gate tracks in-flight sends and refuses new ones after close.
type gate struct {
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func (g *gate) acquire() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	g.inflight.Add(1)
	return true
}

func (g *gate) release() { g.inflight.Done() }

// close reports false when already closed. It returns once every acquired
// send has been released.
func (g *gate) close() bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.closed = true
	g.mu.Unlock()
	g.inflight.Wait()
	return true
}

package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/szibis/telemetry-shipper/internal/auth"
	"github.com/szibis/telemetry-shipper/internal/compression"
	"github.com/szibis/telemetry-shipper/internal/logging"
	tlspkg "github.com/szibis/telemetry-shipper/internal/tls"
)

// maxResponseBody caps how much of a response body is kept for diagnostics.
const maxResponseBody = 64 << 10

// HTTPSender POSTs protobuf bodies to an OTLP/HTTP endpoint.
type HTTPSender struct {
	predicates
	client      *http.Client
	endpoint    string
	timeout     time.Duration
	compression compression.Config

	gate gate
}

// NewHTTP builds the HTTP client: pooled transport, TLS unless Insecure,
// HTTP/2 when TLS is in use or forced, and auth headers.
func NewHTTP(cfg Config) (*HTTPSender, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.HTTPClient.MaxConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	if !cfg.Insecure {
		tlsConfig, err := clientTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	if cfg.HTTPClient.ForceAttemptHTTP2 || transport.TLSClientConfig != nil {
		h2, err := http2.ConfigureTransports(transport)
		if err != nil {
			return nil, fmt.Errorf("failed to configure http2: %w", err)
		}
		if cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
			h2.ReadIdleTimeout = cfg.HTTPClient.HTTP2ReadIdleTimeout
		}
		if cfg.HTTPClient.HTTP2PingTimeout > 0 {
			h2.PingTimeout = cfg.HTTPClient.HTTP2PingTimeout
		}
	}

	endpoint, err := httpEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	return &HTTPSender{
		client:      &http.Client{Transport: auth.HTTPTransport(cfg.Auth, transport)},
		endpoint:    endpoint,
		timeout:     cfg.Timeout,
		compression: cfg.Compression,
	}, nil
}

func clientTLS(cfg tlspkg.ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	tlsConfig, err := tlspkg.NewClientTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return tlsConfig, nil
}

// httpEndpoint adds a scheme and the signal path when the configured
// endpoint has none.
func httpEndpoint(cfg Config) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if cfg.Insecure {
			scheme = "http"
		}
		endpoint = scheme + "://" + endpoint
	}
	rest := endpoint[strings.Index(endpoint, "://")+3:]
	if rest == "" {
		return "", fmt.Errorf("invalid endpoint %q", cfg.Endpoint)
	}
	if !strings.Contains(rest, "/") {
		path := cfg.Path
		if path == "" {
			path = "/v1/traces"
		}
		endpoint += path
	}
	return endpoint, nil
}

// Endpoint returns the resolved request URL.
func (s *HTTPSender) Endpoint() string { return s.endpoint }

// Send implements retry.Sender. The request runs on its own goroutine.
func (s *HTTPSender) Send(ctx context.Context, body []byte, onResponse func(*Response), onError func(error)) {
	if !s.gate.acquire() {
		onError(ErrClosed)
		return
	}
	go func() {
		defer s.gate.release()
		resp, err := s.do(ctx, body)
		if err != nil {
			onError(err)
			return
		}
		onResponse(resp)
	}()
}

func (s *HTTPSender) do(ctx context.Context, body []byte) (*Response, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := compression.Compress(body, s.compression)
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("failed to compress request: %w", err), Type: ErrorTypeClientError, Protocol: ProtocolHTTP}
	}
	label := "none"
	if s.compression.Enabled() {
		label = string(s.compression.Type)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("failed to create request: %w", err), Type: ErrorTypeClientError, Protocol: ProtocolHTTP}
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	if enc := s.compression.Type.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		ee := transportError(ProtocolHTTP, fmt.Errorf("failed to send request: %w", err))
		record(ProtocolHTTP, label, len(payload), started, nil, ee)
		return nil, ee
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, httpResp.Body)

	resp := &Response{
		Protocol:   ProtocolHTTP,
		StatusCode: httpResp.StatusCode,
		Message:    httpResp.Status,
		Body:       respBody,
	}
	record(ProtocolHTTP, label, len(payload), started, resp, nil)
	if !resp.Success() {
		logging.Debug("collector rejected request", logging.F(
			"endpoint", s.endpoint,
			"status", httpResp.StatusCode,
			"retryable", resp.Retryable(),
		))
	}
	return resp, nil
}

// Close rejects new sends and waits for in-flight requests, including
// retries chained from their callbacks.
func (s *HTTPSender) Close() error {
	if s.gate.close() {
		s.client.CloseIdleConnections()
	}
	return nil
}

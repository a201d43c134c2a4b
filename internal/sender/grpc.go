package sender

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/szibis/telemetry-shipper/internal/auth"
	"github.com/szibis/telemetry-shipper/internal/logging"
)

// TracesMethod and LogsMethod are the OTLP collector Export RPCs.
const (
	TracesMethod = "/opentelemetry.proto.collector.trace.v1.TraceService/Export"
	LogsMethod   = "/opentelemetry.proto.collector.logs.v1.LogsService/Export"
)

// GRPCSender invokes an OTLP Export RPC with an already encoded request.
type GRPCSender struct {
	predicates
	conn    *grpc.ClientConn
	method  string
	timeout time.Duration
	gate    gate
}

// NewGRPC creates the client connection. Dialing is lazy.
func NewGRPC(cfg Config) (*GRPCSender, error) {
	var opts []grpc.DialOption

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig, err := clientTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}
	if !cfg.Auth.Empty() {
		opts = append(opts, grpc.WithUnaryInterceptor(auth.GRPCClientInterceptor(cfg.Auth)))
	}
	if cfg.Compression.Enabled() {
		logging.Warn("compression setting ignored for grpc sender", logging.F("compression", string(cfg.Compression.Type)))
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	method := cfg.Method
	if method == "" {
		method = TracesMethod
	}
	return &GRPCSender{conn: conn, method: method, timeout: cfg.Timeout}, nil
}

// Send implements retry.Sender. Any gRPC status, including transport
// failures surfaced as Unavailable, is delivered as a Response; onError is
// reserved for failures that carry no status.
func (s *GRPCSender) Send(ctx context.Context, body []byte, onResponse func(*Response), onError func(error)) {
	if !s.gate.acquire() {
		onError(ErrClosed)
		return
	}
	go func() {
		defer s.gate.release()
		resp, err := s.invoke(ctx, body)
		if err != nil {
			onError(err)
			return
		}
		onResponse(resp)
	}()
}

func (s *GRPCSender) invoke(ctx context.Context, body []byte) (*Response, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reply []byte
	err := s.conn.Invoke(ctx, s.method, body, &reply, grpc.ForceCodec(rawCodec{}))
	st, ok := status.FromError(err)
	if !ok {
		ee := transportError(ProtocolGRPC, err)
		record(ProtocolGRPC, "none", len(body), started, nil, ee)
		return nil, ee
	}

	resp := &Response{Protocol: ProtocolGRPC, Code: st.Code(), Message: st.Message(), Body: reply}
	record(ProtocolGRPC, "none", len(body), started, resp, nil)
	if st.Code() != codes.OK {
		logging.Debug("collector rejected request", logging.F(
			"method", s.method,
			"code", st.Code().String(),
			"retryable", resp.Retryable(),
		))
	}
	return resp, nil
}

// Close rejects new sends, waits for in-flight ones and closes the
// connection.
func (s *GRPCSender) Close() error {
	if !s.gate.close() {
		return nil
	}
	return s.conn.Close()
}

// rawCodec passes pre-encoded protobuf bytes through unchanged. Its name
// keeps the standard application/grpc+proto content type.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

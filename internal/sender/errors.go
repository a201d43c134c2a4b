package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorType is a low-cardinality category for metrics and retry decisions.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeClientError ErrorType = "client_error"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// ErrClosed is reported for sends on a closed sender.
var ErrClosed = errors.New("sender: closed")

// ExportError describes a failed send: either a transport failure (no
// response at all) or a response the collector rejected.
type ExportError struct {
	Err      error
	Type     ErrorType
	Protocol Protocol
	// StatusCode is the HTTP status, 0 for gRPC and transport failures.
	StatusCode int
	// Code is the gRPC status, codes.OK for HTTP and transport failures.
	Code    codes.Code
	Message string
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Protocol == ProtocolGRPC {
		return fmt.Sprintf("export rejected: type=%s code=%s message=%q", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("export rejected: type=%s status=%d message=%q", e.Type, e.StatusCode, e.Message)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether sending the same payload again may succeed.
// Rejections follow the OTLP retryable sets; transport failures are
// retryable when they are network or timeout errors.
func (e *ExportError) IsRetryable() bool {
	switch {
	case e.StatusCode != 0:
		return retryableHTTPStatus(e.StatusCode)
	case e.Code != codes.OK:
		return retryableGRPCCode(e.Code)
	}
	return e.Type == ErrorTypeNetwork || e.Type == ErrorTypeTimeout
}

// IsRetryableError is the transport-failure predicate for retry.New.
func IsRetryableError(err error) bool {
	if errors.Is(err, ErrClosed) {
		return false
	}
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	t := classifyError(err)
	return t == ErrorTypeNetwork || t == ErrorTypeTimeout
}

func retryableHTTPStatus(code int) bool {
	switch code {
	case 429, 502, 503, 504:
		return true
	}
	return false
}

func retryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Canceled, codes.DeadlineExceeded, codes.Aborted,
		codes.OutOfRange, codes.Unavailable, codes.DataLoss:
		return true
	}
	return false
}

func transportError(p Protocol, err error) *ExportError {
	return &ExportError{Err: err, Type: classifyError(err), Protocol: p}
}

func classifyGRPCCode(code codes.Code) ErrorType {
	switch code {
	case codes.DeadlineExceeded:
		return ErrorTypeTimeout
	case codes.Unavailable:
		return ErrorTypeNetwork
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrorTypeAuth
	case codes.ResourceExhausted:
		return ErrorTypeRateLimit
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return ErrorTypeClientError
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Aborted:
		return ErrorTypeServerError
	}
	return ErrorTypeUnknown
}

func classifyHTTPStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	}
	return ErrorTypeUnknown
}

// classifyError categorizes a transport failure.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return classifyGRPCCode(st.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "network is unreachable", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(msg, s) {
			return ErrorTypeNetwork
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

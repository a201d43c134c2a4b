// Package auth attaches client credentials to outgoing collector requests.
package auth

import (
	"context"
	"encoding/base64"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ClientConfig holds the credentials sent with every export request. A
// bearer token takes precedence over basic auth.
type ClientConfig struct {
	BearerToken       string            `yaml:"bearer_token"`
	BasicAuthUsername string            `yaml:"basic_auth_username"`
	BasicAuthPassword string            `yaml:"basic_auth_password"`
	Headers           map[string]string `yaml:"headers"`
}

// Empty reports whether no credential or header is configured.
func (c ClientConfig) Empty() bool {
	return c.authorization() == "" && len(c.Headers) == 0
}

func (c ClientConfig) authorization() string {
	switch {
	case c.BearerToken != "":
		return "Bearer " + c.BearerToken
	case c.BasicAuthUsername != "" && c.BasicAuthPassword != "":
		return "Basic " + basicAuthEncoded(c.BasicAuthUsername, c.BasicAuthPassword)
	}
	return ""
}

// HTTPTransport wraps base so each request carries the configured
// credentials and headers. The caller's request is not modified.
func HTTPTransport(cfg ClientConfig, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.Empty() {
		return base
	}
	return &authTransport{base: base, cfg: cfg, authz: cfg.authorization()}
}

type authTransport struct {
	base  http.RoundTripper
	cfg   ClientConfig
	authz string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.cfg.Headers {
		clone.Header.Set(k, v)
	}
	if t.authz != "" {
		clone.Header.Set("Authorization", t.authz)
	}
	return t.base.RoundTrip(clone)
}

// GRPCClientInterceptor adds the credentials as outgoing metadata.
func GRPCClientInterceptor(cfg ClientConfig) grpc.UnaryClientInterceptor {
	md := metadata.MD{}
	for k, v := range cfg.Headers {
		md.Set(k, v)
	}
	if authz := cfg.authorization(); authz != "" {
		md.Set("authorization", authz)
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if len(md) > 0 {
			ctx = metadata.NewOutgoingContext(ctx, metadata.Join(metadataFrom(ctx), md))
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func metadataFrom(ctx context.Context) metadata.MD {
	md, _ := metadata.FromOutgoingContext(ctx)
	return md
}

func basicAuthEncoded(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

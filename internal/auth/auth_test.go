package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestHTTPTransport(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ClientConfig
		wantAuthz string
		wantTeam  string
	}{
		{"bearer", ClientConfig{BearerToken: "s3cret"}, "Bearer s3cret", ""},
		{"basic", ClientConfig{BasicAuthUsername: "user", BasicAuthPassword: "pass"}, "Basic dXNlcjpwYXNz", ""},
		{"bearer wins over basic", ClientConfig{BearerToken: "t", BasicAuthUsername: "u", BasicAuthPassword: "p"}, "Bearer t", ""},
		{"headers only", ClientConfig{Headers: map[string]string{"X-Team": "obs"}}, "", "obs"},
		{"header cannot override credentials", ClientConfig{BearerToken: "t", Headers: map[string]string{"Authorization": "forged", "X-Team": "obs"}}, "Bearer t", "obs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuthz, gotTeam string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuthz = r.Header.Get("Authorization")
				gotTeam = r.Header.Get("X-Team")
			}))
			defer srv.Close()

			client := &http.Client{Transport: HTTPTransport(tt.cfg, nil)}
			req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
			resp, err := client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if gotAuthz != tt.wantAuthz {
				t.Errorf("Authorization = %q, want %q", gotAuthz, tt.wantAuthz)
			}
			if gotTeam != tt.wantTeam {
				t.Errorf("X-Team = %q, want %q", gotTeam, tt.wantTeam)
			}
			if req.Header.Get("Authorization") != "" {
				t.Error("caller's request must not be modified")
			}
		})
	}
}

func TestHTTPTransport_EmptyConfigReturnsBase(t *testing.T) {
	base := &http.Transport{}
	if HTTPTransport(ClientConfig{}, base) != http.RoundTripper(base) {
		t.Fatal("empty config should not wrap the base transport")
	}
}

func TestGRPCClientInterceptor(t *testing.T) {
	cfg := ClientConfig{
		BasicAuthUsername: "user",
		BasicAuthPassword: "pass",
		Headers:           map[string]string{"x-tenant": "acme"},
	}
	interceptor := GRPCClientInterceptor(cfg)

	var got metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		got, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request", "42")
	if err := interceptor(ctx, "/svc/Export", nil, nil, nil, invoker); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"authorization": "Basic dXNlcjpwYXNz",
		"x-tenant":      "acme",
		"x-request":     "42",
	}
	for k, want := range checks {
		if v := got.Get(k); len(v) != 1 || v[0] != want {
			t.Errorf("metadata[%s] = %v, want %q", k, v, want)
		}
	}
}

func TestGRPCClientInterceptor_NoCredentials(t *testing.T) {
	interceptor := GRPCClientInterceptor(ClientConfig{})
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		if _, ok := metadata.FromOutgoingContext(ctx); ok {
			t.Error("no metadata expected without credentials")
		}
		return nil
	}
	if err := interceptor(context.Background(), "/svc/Export", nil, nil, nil, invoker); err != nil {
		t.Fatal(err)
	}
}

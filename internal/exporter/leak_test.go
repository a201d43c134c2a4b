package exporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/szibis/telemetry-shipper/internal/sender"
)

func TestLeakCheck_ExportAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	snd, err := sender.NewHTTP(sender.Config{Endpoint: srv.URL, Insecure: true, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	e := newTestExporter(t, snd, func(c *Config) {
		c.Retry.MaxAttempts = 100
		c.Retry.InitialBackoff = time.Second
		c.Retry.MaxBackoff = time.Second
	})

	pending := e.Export(context.Background(), spans(2))
	if !e.Shutdown(context.Background()).Join(2 * time.Second).IsSuccess() {
		t.Fatal("shutdown failed")
	}
	if !pending.Join(2 * time.Second).IsDone() {
		t.Fatal("shutdown should interrupt the retry chain")
	}
	srv.Close()
}

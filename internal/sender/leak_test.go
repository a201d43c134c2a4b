package sender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLeakCheck_HTTPSender(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	s, err := NewHTTP(Config{Endpoint: srv.URL, Insecure: true, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		sendSync(t, s, context.Background(), []byte("x"))
	}
	s.Close()
	srv.Close()
}

func TestLeakCheck_GRPCSender(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mock := &mockTraceServer{}
	t.Run("send", func(t *testing.T) {
		s := newGRPCTestSender(t, startTraceServer(t, mock), nil)
		for i := 0; i < 5; i++ {
			sendSync(t, s, context.Background(), encodedTraceRequest(t, "x"))
		}
	})
	if mock.count() != 5 {
		t.Errorf("server saw %d requests, want 5", mock.count())
	}
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

func TestOpsRouter(t *testing.T) {
	h := opsRouter(prometheus.NewRegistry())
	for _, path := range []string{"/health", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestRunRejectsMemoryBackend(t *testing.T) {
	cfg := &appconfig.Config{QueueBackend: "memory"}
	if err := run(context.Background(), cfg, logging.New("error")); err == nil {
		t.Fatal("expected standalone worker to refuse the memory backend")
	}
}

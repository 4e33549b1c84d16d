package main

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/syncproxy/internal/metrics"
	"github.com/angeloszaimis/syncproxy/internal/supervisor"
)

type statusSource interface {
	Status() supervisor.Status
}

func setupAdminRouter(metricsCollector *metrics.Collector, backend statusSource) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", metricsCollector.Handler())
	mux.HandleFunc("GET /healthz", healthzHandler(backend))

	return mux
}

func healthzHandler(backend statusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := backend.Status()

		code := http.StatusOK
		if status.State != supervisor.StateRunning || !status.Alive {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}

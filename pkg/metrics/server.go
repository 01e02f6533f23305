package metrics

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer builds the scrape server of one service. /metrics exposes
// gatherer and the root page names the service, so a target can be told
// apart when the indexer and searchers share a host.
func NewServer(service string, port int, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}))
	page := fmt.Sprintf(
		`<html><body><h1>vocabtree %s</h1><p><a href="/metrics">/metrics</a></p></body></html>`,
		html.EscapeString(service),
	)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StartServer serves the default registry for service in the background and
// returns the server's shutdown function.
func StartServer(service string, port int) (shutdown func(context.Context) error) {
	server := NewServer(service, port, prometheus.DefaultGatherer)
	go func() {
		slog.Info("metrics server listening", "service", service, "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "service", service, "error", err)
		}
	}()
	return server.Shutdown
}

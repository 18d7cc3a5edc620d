package metrics

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServeMux serves the metrics gathered from g on /metrics, with a small
// index page naming the service.
func NewServeMux(service string, g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>%s metrics</h1><p><a href="/metrics">/metrics</a></p></body></html>`, html.EscapeString(service))
	})
	return mux
}

// StartServer serves the default registry on its own port so scraping
// never competes with the request timeout of the service. It also exports
// searchapi_service_info so dashboards can tell the binaries apart.
func StartServer(port int, service string) (shutdown func(context.Context) error) {
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "searchapi_service_info",
		Help:        "Always 1; labelled with the binary that exports the metrics.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	info.Set(1)
	if err := prometheus.Register(info); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			slog.Warn("registering service info", "error", err)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewServeMux(service, prometheus.DefaultGatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", server.Addr, "service", service)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server.Shutdown
}

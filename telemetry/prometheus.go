package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns the Prometheus scrape handler used by the webhook
// server's /metrics endpoint. It scrapes whatever OTEL Prometheus exporter
// was registered with the default Prometheus registry at process start;
// legion-core does not configure the exporter itself, only exposes the
// endpoint that serves it.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

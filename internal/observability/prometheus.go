package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName scopes the instruments created by this service.
const MeterName = "github.com/ericfisherdev/checkpulse"

// PrometheusHandler creates a Prometheus exporter backed by an OTel
// MeterProvider. It returns the provider, for creating instruments, and the
// /metrics scrape handler. Each call uses its own registry so repeated calls
// in tests do not collide.
func PrometheusHandler() (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return provider, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

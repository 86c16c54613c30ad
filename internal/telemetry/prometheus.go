package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider is a MeterProvider whose instruments are scraped over HTTP.
type Provider struct {
	*sdkmetric.MeterProvider
	handler http.Handler
}

// NewPrometheusProvider builds a MeterProvider backed by the OTel Prometheus
// exporter. Metrics are kept in a private registry served by Handler.
func NewPrometheusProvider() (*Provider, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	return &Provider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Handler serves the Prometheus text exposition of every instrument.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// NewObserver returns a MetricsObserver recording into p.
func (p *Provider) NewObserver() *MetricsObserver {
	return NewMetricsObserverWithMeter(p.Meter(meterName))
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}

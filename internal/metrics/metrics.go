// Package metrics holds the OpenTelemetry instruments of the auction core and
// the Prometheus exporter that serves them.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// Attribute keys shared by several instruments.
const (
	KeyReason   = attribute.Key("reason")
	KeyScan     = attribute.Key("scan")
	KeyTxType   = attribute.Key("tx_type")
	KeyTemplate = attribute.Key("template")
	KeyChannel  = attribute.Key("channel")
	KeyBudget   = attribute.Key("budget")
	KeyPattern  = attribute.Key("pattern")
)

// MetricIncrCounter increments m by 1, tagged AttrOK or AttrError depending
// on err. It is meant to be deferred.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attr := AttrOK
	if err != nil {
		attr = AttrError
	}
	m.Add(ctx, 1, metric.WithAttributes(append(labels, attr)...))
}

// Setup installs a Prometheus-backed meter provider as the global provider
// and returns the /metrics handler and a shutdown func.
func Setup() (http.Handler, func(context.Context) error, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, provider.Shutdown, nil
}

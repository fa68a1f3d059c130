// Package metrics exposes Prometheus instrumentation for the proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	generations        *prometheus.CounterVec
	generationPolls    prometheus.Histogram
	generationDuration prometheus.Histogram
	requests           *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	generations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgen_generations_total",
		Help: "Image generations by outcome",
	}, []string{"outcome"})

	generationPolls := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fluxgen_generation_polls",
		Help:    "Status calls made per generation",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
	})

	generationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fluxgen_generation_duration_seconds",
		Help:    "Wall time from submit to final outcome",
		Buckets: []float64{1, 3, 6, 10, 20, 30, 60, 90, 120, 150},
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgen_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	registry.MustRegister(
		generations,
		generationPolls,
		generationDuration,
		requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		generations:        generations,
		generationPolls:    generationPolls,
		generationDuration: generationDuration,
		requests:           requests,
	}
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveGeneration(outcome string, polls int, elapsed time.Duration) {
	m.generations.WithLabelValues(outcome).Inc()
	m.generationPolls.Observe(float64(polls))
	m.generationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRequest(method, route string, status int) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

package rdb

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// metrics 为 nil 时所有方法都不做任何事
type metrics struct {
	queries   *prometheus.CounterVec
	executes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	connects  *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
}

func newMetrics(name string, registerer prometheus.Registerer) *metrics {
	m := &metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_queries_total",
			Help: "Total number of queries",
		}, []string{"status"}),
		executes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_executes_total",
			Help: "Total number of executed statements",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name + "_statement_duration_seconds",
			Help:    "Duration of statements in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"operation"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_connects_total",
			Help: "Total number of physical connection attempts",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_table_cache_total",
			Help: "Table info cache lookups",
		}, []string{"result"}),
	}

	registerer.MustRegister(m.queries, m.executes, m.duration, m.connects, m.cacheHits)
	return m
}

func (m *metrics) statement(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	switch operation {
	case "query":
		m.queries.WithLabelValues(status).Inc()
	case "execute":
		m.executes.WithLabelValues(status).Inc()
	}
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *metrics) connect(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

func (m *metrics) cache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues("hit").Inc()
	} else {
		m.cacheHits.WithLabelValues("miss").Inc()
	}
}

// tracer 为 nil 时不创建 span
type tracer struct {
	tracer trace.Tracer
}

func newTracer(name string) *tracer {
	return &tracer{tracer: otel.Tracer(fmt.Sprintf("rdb.%s", name))}
}

func (t *tracer) start(ctx context.Context, operation string, system string, statement string, link int) (context.Context, func(error)) {
	if t == nil {
		return ctx, func(error) {}
	}

	ctx, span := t.tracer.Start(ctx, "rdb."+operation, trace.WithAttributes(
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Int("rdb.link", link),
	))
	return ctx, func(err error) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

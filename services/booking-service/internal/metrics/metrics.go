// Package metrics exposes Prometheus collectors for the booking core.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type Metrics struct {
	reg          *prometheus.Registry
	events       *prometheus.CounterVec
	scopes       *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(service string) *Metrics {
	constLabels := prometheus.Labels{"service": service}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salonbook_events_total",
			Help:        "Domain events committed, by event type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		scopes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "salonbook_scope_duration_seconds",
			Help:        "Time spent in locked booking scopes, by outcome.",
			ConstLabels: constLabels,
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests, by method, path and status.",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency, by method and path.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	m.reg.MustRegister(
		m.events, m.scopes, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Outcome buckets a scope error into a bounded label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "commit"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrAuthorization):
		return "forbidden"
	case errors.Is(err, apperr.ErrState), errors.Is(err, apperr.ErrExpiredOffer):
		return "state"
	default:
		return "error"
	}
}

// Store decorates s so committed events and scope latencies are recorded.
func (m *Metrics) Store(s storage.Store) storage.Store {
	return &instrumentedStore{Store: s, m: m}
}

type instrumentedStore struct {
	storage.Store
	m *Metrics
}

func (s *instrumentedStore) InScope(ctx context.Context, keys []string, fn func(ctx context.Context, tx storage.Tx) error) error {
	start := time.Now()
	var emitted []string
	err := s.Store.InScope(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		emitted = emitted[:0]
		return fn(ctx, &countingTx{Tx: tx, emitted: &emitted})
	})
	s.m.scopes.WithLabelValues(Outcome(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		for _, eventType := range emitted {
			s.m.events.WithLabelValues(eventType).Inc()
		}
	}
	return err
}

type countingTx struct {
	storage.Tx
	emitted *[]string
}

func (t *countingTx) Emit(ctx context.Context, evt outbox.Event) error {
	if err := t.Tx.Emit(ctx, evt); err != nil {
		return err
	}
	*t.emitted = append(*t.emitted, evt.EventType)
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTP records request counts and latency. Paths outside /api/ collapse to
// "other" to keep label cardinality bounded.
func (m *Metrics) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if !strings.HasPrefix(path, "/api/") {
			path = "other"
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

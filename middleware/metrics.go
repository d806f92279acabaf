package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	rspc "github.com/specta-rs/rspc-sub002"
)

const metricsNamespace = "rspc"

// Metrics holds the Prometheus collectors updated by its middleware.
type Metrics struct {
	calls         *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	subscriptions *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer. Collectors that are already registered
// are reused, so several routers may share a registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "procedure_calls_total",
			Help:      "Number of procedure invocations.",
		}, []string{"procedure", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "procedure_errors_total",
			Help:      "Number of error items yielded by procedures.",
		}, []string{"procedure", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "procedure_duration_seconds",
			Help:      "Time from invocation until the result stream is closed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure", "kind"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_subscriptions",
			Help:      "Number of subscription streams currently open.",
		}, []string{"procedure"}),
	}

	var err error
	m.calls = register(reg, m.calls, &err)
	m.errors = register(reg, m.errors, &err)
	m.duration = register(reg, m.duration, &err)
	m.subscriptions = register(reg, m.subscriptions, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = multierr.Append(*errp, err)
	}
	return c
}

// Middleware returns the layer that records calls, error items, durations
// and open subscriptions.
func (m *Metrics) Middleware() rspc.Middleware {
	return rspc.Transparent("metrics", func(ctx context.Context, in *rspc.Input, meta rspc.ProcedureMeta, next func(context.Context, *rspc.Input) *rspc.Stream) *rspc.Stream {
		kind := meta.Kind.String()
		m.calls.WithLabelValues(meta.Name, kind).Inc()
		if meta.Kind == rspc.KindSubscription {
			m.subscriptions.WithLabelValues(meta.Name).Inc()
		}

		start := time.Now()
		return next(ctx, in).Map(func(it rspc.Item) rspc.Item {
			if it.Err != nil {
				m.errors.WithLabelValues(meta.Name, rspc.CodeName(rspc.AsError(it.Err).Code)).Inc()
			}
			return it
		}).OnClose(func() {
			m.duration.WithLabelValues(meta.Name, kind).Observe(time.Since(start).Seconds())
			if meta.Kind == rspc.KindSubscription {
				m.subscriptions.WithLabelValues(meta.Name).Dec()
			}
		})
	})
}

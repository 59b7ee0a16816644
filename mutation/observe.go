package mutation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"prism-client/domain"
	"prism-client/remote"
)

// Outcome describes a settled mutation.
type Outcome struct {
	Key domain.Key
	Seq uint64
	// Subject is the user signed in when the mutation began.
	Subject  string
	Op       remote.Op
	Status   Status
	Err      error
	Duration time.Duration
}

// Observer is notified once per settled mutation. Observers run on the
// goroutine that called Apply, after the store has been updated.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

func (f ObserverFunc) Observe(ctx context.Context, o Outcome) { f(ctx, o) }

func (c *Controller) observe(ctx context.Context, o Outcome) {
	for _, obs := range c.observers {
		obs.Observe(ctx, o)
	}
}

// LogObserver writes one structured line per outcome.
type LogObserver struct {
	Logger *log.Logger
}

func (l LogObserver) Observe(_ context.Context, o Outcome) {
	if l.Logger == nil {
		return
	}
	fields := log.Fields{
		"kind":        o.Key.Kind,
		"id":          o.Key.ID,
		"seq":         o.Seq,
		"op":          o.Op,
		"status":      o.Status,
		"duration_ms": float64(o.Duration) / float64(time.Millisecond),
	}
	entry := l.Logger.WithFields(fields)
	switch {
	case o.Err != nil && o.Status != StatusSuperseded:
		entry.WithError(o.Err).Warn("mutation.outcome")
	case o.Status == StatusSuperseded:
		entry.Debug("mutation.outcome")
	default:
		entry.Info("mutation.outcome")
	}
}

// MetricsObserver counts outcomes and records effect latency.
type MetricsObserver struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetricsObserver registers the mutation collectors on reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prism",
			Subsystem: "mutation",
			Name:      "outcomes_total",
			Help:      "Settled optimistic mutations by resource kind, operation and status.",
		}, []string{"kind", "op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prism",
			Subsystem: "mutation",
			Name:      "duration_seconds",
			Help:      "Time from optimistic write to settlement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "op"}),
	}
	for _, col := range []prometheus.Collector{m.outcomes, m.latency} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsObserver) Observe(_ context.Context, o Outcome) {
	m.outcomes.WithLabelValues(string(o.Key.Kind), string(o.Op), string(o.Status)).Inc()
	m.latency.WithLabelValues(string(o.Key.Kind), string(o.Op)).Observe(o.Duration.Seconds())
}

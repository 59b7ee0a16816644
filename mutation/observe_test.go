package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"prism-client/domain"
	"prism-client/remote"
	"prism-client/store"
)

func TestObserversSeeEveryOutcome(t *testing.T) {
	var outcomes []Outcome
	obs := ObserverFunc(func(_ context.Context, o Outcome) { outcomes = append(outcomes, o) })
	c, st := newTestController(t, WithObserver(obs))
	st.Set(domain.KindTask, "T1", &domain.Task{ID: "T1", Status: domain.TaskTodo})

	p := &fakePerformer{actionFn: func(context.Context, remote.Op, domain.Kind, string, string, any) (domain.Resource, error) {
		return nil, &remote.AuthError{Status: 401}
	}}
	_, err := c.Apply(context.Background(), CycleTask(p, "T1"))
	require.Error(t, err)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusRolledBack, outcomes[0].Status)
	assert.Equal(t, domain.Key{Kind: domain.KindTask, ID: "T1"}, outcomes[0].Key)
	assert.True(t, remote.IsAuth(outcomes[0].Err))
}

func TestLogObserverLevels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	obs := LogObserver{Logger: logger}

	key := domain.Key{Kind: domain.KindTask, ID: "T1"}
	obs.Observe(context.Background(), Outcome{Key: key, Status: StatusCommitted})
	obs.Observe(context.Background(), Outcome{Key: key, Status: StatusRolledBack, Err: errors.New("boom")})
	obs.Observe(context.Background(), Outcome{Key: key, Status: StatusSuperseded, Err: errors.New("late")})

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, log.InfoLevel, entries[0].Level)
	assert.Equal(t, log.WarnLevel, entries[1].Level)
	assert.Equal(t, log.DebugLevel, entries[2].Level)
	assert.Equal(t, "mutation.outcome", entries[1].Message)
	assert.Equal(t, "T1", entries[1].Data["id"])
}

func TestMetricsObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsObserver(reg)
	require.NoError(t, err)

	c, st := newTestController(t, WithObserver(m))
	st.Set(domain.KindNotification, "N1", &domain.Notification{ID: "N1"})
	p := &fakePerformer{actionFn: func(_ context.Context, _ remote.Op, _ domain.Kind, id, _ string, _ any) (domain.Resource, error) {
		return &domain.Notification{ID: id, Read: true, Status: domain.NotificationRead}, nil
	}}
	_, err = c.Apply(context.Background(), MarkNotificationRead(p, "N1"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("notification", "patch", "committed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))

	_, err = NewMetricsObserver(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestApplyRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger, _ := test.NewNullLogger()
	st := store.New()
	c := NewController(st, logger)
	c.tracer = tp.Tracer(tracerName)
	st.Set(domain.KindTask, "T1", &domain.Task{ID: "T1"})

	p := &fakePerformer{actionFn: func(_ context.Context, _ remote.Op, _ domain.Kind, id, _ string, _ any) (domain.Resource, error) {
		return &domain.Task{ID: id, Status: domain.TaskInProgress}, nil
	}}
	_, err := c.Apply(context.Background(), CycleTask(p, "T1"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "mutation.apply", spans[0].Name)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "committed", attrs["prism.mutation.status"])
	assert.Equal(t, "task", attrs["prism.resource.kind"])
}

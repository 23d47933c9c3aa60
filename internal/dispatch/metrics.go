package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-grammar/internal/engine"
)

// DurationMetric is the histogram of per-utterance dispatch time in
// milliseconds.
const DurationMetric = "loqa.grammar.dispatch.duration"

type metrics struct {
	meter        metric.Meter
	utterances   metric.Int64Counter
	failures     metric.Int64Counter
	listUpdates  metric.Int64Counter
	latency      metric.Float64Histogram
	grammarGauge metric.Int64ObservableGauge
	ruleGauge    metric.Int64ObservableGauge
}

// newMetrics registers the dispatch instruments. A nil *metrics records
// nothing, so callers may keep going when registration fails.
func newMetrics(eng *engine.Engine) (*metrics, error) {
	m := &metrics{meter: otel.Meter("github.com/loqalabs/loqa-grammar/dispatch")}
	var err error
	if m.utterances, err = m.meter.Int64Counter("loqa.grammar.utterances",
		metric.WithDescription("Utterances dispatched to grammars")); err != nil {
		return nil, err
	}
	if m.failures, err = m.meter.Int64Counter("loqa.grammar.failures",
		metric.WithDescription("Utterances no rule matched")); err != nil {
		return nil, err
	}
	if m.listUpdates, err = m.meter.Int64Counter("loqa.grammar.list_updates",
		metric.WithDescription("List updates applied")); err != nil {
		return nil, err
	}
	if m.latency, err = m.meter.Float64Histogram(DurationMetric,
		metric.WithDescription("Time to decode and dispatch one utterance"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.grammarGauge, err = m.meter.Int64ObservableGauge("loqa.grammar.loaded",
		metric.WithDescription("Registered grammars")); err != nil {
		return nil, err
	}
	if m.ruleGauge, err = m.meter.Int64ObservableGauge("loqa.grammar.active_rules",
		metric.WithDescription("Rules the engine is listening for")); err != nil {
		return nil, err
	}
	_, err = m.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(m.grammarGauge, int64(len(eng.Grammars())))
		var rules int64
		for _, names := range eng.ActiveRules() {
			rules += int64(len(names))
		}
		obs.ObserveInt64(m.ruleGauge, rules)
		return nil
	}, m.grammarGauge, m.ruleGauge)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) observe(ctx context.Context, res engine.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("grammar", res.Grammar), attribute.Bool("handled", res.Handled))
	m.utterances.Add(ctx, 1, attrs)
	if res.Failure {
		m.failures.Add(ctx, 1)
	}
	m.latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *metrics) listUpdated(ctx context.Context, grammarName string) {
	if m == nil {
		return
	}
	m.listUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("grammar", grammarName)))
}

package platoon

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/platoon/internal/platoon"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	requested metric.Int64Counter
	accepted  metric.Int64Counter
	rejected  metric.Int64Counter
	completed metric.Int64Counter
	aborted   metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)
	counters := []struct {
		name string
		desc string
		dst  *metric.Int64Counter
	}{
		{"platoon.join.requested", "Join requests received", &out.requested},
		{"platoon.join.accepted", "Join requests accepted", &out.accepted},
		{"platoon.join.rejected", "Join requests rejected", &out.rejected},
		{"platoon.join.completed", "Joins merged into a platoon", &out.completed},
		{"platoon.join.aborted", "Joins aborted after acceptance", &out.aborted},
	}
	for _, c := range counters {
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}
	return &out, nil
}

func (m *metrics) add(c metric.Int64Counter, platoonID string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("platoon", platoonID))
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

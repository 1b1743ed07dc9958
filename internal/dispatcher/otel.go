package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/platoon/internal/dispatcher"

// instruments are created against the global meter provider, which is a no-op
// until the otel provider is installed.
type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter
}

func newInstruments(depths func() map[string]int) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	inst := &instruments{}
	var err error

	inst.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Recording events waiting per buffered command"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			for cmd, n := range depths() {
				o.ObserveInt64(inst.queueSize, int64(n), commandAttr(cmd))
			}
			return nil
		},
		inst.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&inst.processed, "dispatcher.events.processed", "Recording events handled"},
		{&inst.dropped, "dispatcher.events.dropped", "Recording events dropped on a full queue"},
		{&inst.failed, "dispatcher.events.failed", "Buffered recording events whose handler failed"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}
	return inst, nil
}

func commandAttr(command string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("command", command))
}

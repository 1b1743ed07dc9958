package otel

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutSinks(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "platoon-sim"})
	assert.ErrorIs(t, err, ErrNoLogSink)
}

func TestNew_LogsToWriter(t *testing.T) {
	buf := &syncBuffer{}
	p, err := New(Config{
		Enabled:     true,
		ServiceName: "platoon-sim",
		LogWriter:   buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	var rec otellog.Record
	rec.SetBody(otellog.StringValue("vehicle joined platoon"))
	p.LoggerProvider().Logger("test").Emit(context.Background(), rec)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "vehicle joined platoon")
	assert.Contains(t, buf.String(), "platoon-sim")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_MetricsToWriter(t *testing.T) {
	logs, metrics := &syncBuffer{}, &syncBuffer{}
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "platoon-sim",
		LogWriter:    logs,
		MetricWriter: metrics,
	})
	require.NoError(t, err)

	counter, err := p.Meter("test").Int64Counter("platoon.joins")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, metrics.String(), "platoon.joins")
}

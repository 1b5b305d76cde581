package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMonitor(buf *bytes.Buffer, values ...float64) *CPUMonitor {
	m := New(buf, 500*time.Millisecond, nil)
	i := 0
	m.cpuPercent = func(ctx context.Context, _ time.Duration) (float64, error) {
		if i >= len(values) {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		v := values[i]
		i++
		return v, nil
	}
	m.memPercent = func(context.Context) (float64, error) { return 40, nil }
	return m
}

func TestCPUMonitorWritesCSV(t *testing.T) {
	var buf bytes.Buffer
	m := fakeMonitor(&buf, 12.5, 50, 99.94, 7)
	m.Duration = 1500 * time.Millisecond

	var samples []Sample
	m.OnSample = func(s Sample) { samples = append(samples, s) }

	require.NoError(t, m.Run(context.Background()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{Header, "0.0,12.5", "0.5,50.0", "1.0,99.9"}, lines)

	require.Len(t, samples, 3)
	assert.Equal(t, time.Second, samples[2].Offset)
	assert.Equal(t, 40.0, samples[0].MemPercent)
}

func TestCPUMonitorStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	m := fakeMonitor(&buf, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))
	assert.Equal(t, Header+"\n0.0,1.0\n", buf.String())
}

func TestCPUMonitorSampleError(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf, time.Millisecond, nil)
	m.cpuPercent = func(context.Context, time.Duration) (float64, error) {
		return 0, errors.New("not supported")
	}
	assert.ErrorContains(t, m.Run(context.Background()), "not supported")
}

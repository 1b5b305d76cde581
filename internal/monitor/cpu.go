package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	DefaultInterval = time.Second
	Header          = "Time(s),CPU_Usage(%)"
)

type Sample struct {
	Offset     time.Duration
	CPUPercent float64
	MemPercent float64
}

// CPUMonitor samples host CPU usage and writes one CSV line per interval.
type CPUMonitor struct {
	Interval time.Duration
	// Duration bounds the run; zero samples until ctx is done.
	Duration time.Duration
	// OnSample, if set, sees every sample after it is written.
	OnSample func(Sample)

	out    io.Writer
	logger hclog.Logger

	// cpuPercent blocks for interval and returns the busy percentage.
	cpuPercent func(ctx context.Context, interval time.Duration) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
}

func New(out io.Writer, interval time.Duration, logger hclog.Logger) *CPUMonitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CPUMonitor{
		Interval:   interval,
		out:        out,
		logger:     logger.Named("monitor"),
		cpuPercent: hostCPU,
		memPercent: hostMem,
	}
}

func hostCPU(ctx context.Context, interval time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu sample")
	}
	return pct[0], nil
}

func hostMem(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Run writes the header and then samples until Duration elapses or ctx is
// done. Cancellation is a normal stop and returns nil.
func (m *CPUMonitor) Run(ctx context.Context) error {
	w := bufio.NewWriter(m.out)
	defer w.Flush()

	if _, err := fmt.Fprintln(w, Header); err != nil {
		return err
	}

	limit := -1
	if m.Duration > 0 {
		limit = int(m.Duration / m.Interval)
	}
	for i := 0; limit < 0 || i < limit; i++ {
		usage, err := m.cpuPercent(ctx, m.Interval)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cpu sample: %w", err)
		}

		s := Sample{Offset: time.Duration(i) * m.Interval, CPUPercent: usage}
		if pct, err := m.memPercent(ctx); err == nil {
			s.MemPercent = pct
		}

		line := strconv.FormatFloat(s.Offset.Seconds(), 'f', 1, 64) + "," + strconv.FormatFloat(usage, 'f', 1, 64)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		m.logger.Debug("cpu sample", "offset", s.Offset, "cpu", usage, "mem", s.MemPercent)
		if m.OnSample != nil {
			m.OnSample(s)
		}
	}
	return nil
}

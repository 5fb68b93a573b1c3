package sysmon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
)

// Monitor produces the throttle verdict consulted before every job
// admission. Each Check takes a fresh one-shot sample; there is no
// smoothing beyond what the kernel's 1-minute load average provides.
type Monitor struct {
	CPUThreshold float64       // percent busy; model.DefaultCPUPercent when 0
	LoadFactor   float64       // × logical cores; model.DefaultLoadFactor when 0
	Sample       time.Duration // cpu sampling window; default when 0

	// Samplers, swappable for tests. Nil selects the system samplers.
	CPUPercent func(ctx context.Context, interval time.Duration) (float64, error)
	LoadAvg    func(ctx context.Context) (float64, error)
	Cores      func(ctx context.Context) (int, error)

	Log *slog.Logger
}

// Check samples CPU utilization and the 1-minute load average. Either
// exceeding its threshold throttles, with the exceeded metric in Reason.
// A failed sample logs a warning and does not throttle: resource pressure
// pauses a batch, a broken probe must not.
func (m *Monitor) Check(ctx context.Context) model.Throttle {
	logger := m.Log
	if logger == nil {
		logger = slog.Default()
	}

	cpuMax := m.CPUThreshold
	if cpuMax <= 0 {
		cpuMax = model.DefaultCPUPercent
	}
	factor := m.LoadFactor
	if factor <= 0 {
		factor = model.DefaultLoadFactor
	}
	sample := m.Sample
	if sample <= 0 {
		sample, _ = model.ParseDurationField("throttle.sample", model.DefaultThrottleSample)
	}

	busy, err := m.cpuPercent(ctx, sample)
	if err != nil {
		logger.WarnContext(ctx, "cpu sample failed", slog.Any("error", err))
	} else if busy > cpuMax {
		return model.Throttle{
			Throttled: true,
			Reason:    fmt.Sprintf("cpu %.1f%% above threshold %.0f%%", busy, cpuMax),
		}
	}

	load1, err := m.loadAvg(ctx)
	if err != nil {
		logger.WarnContext(ctx, "load average sample failed", slog.Any("error", err))
		return model.Throttle{}
	}
	cores := m.cores(ctx)
	loadMax := factor * float64(cores)
	if load1 > loadMax {
		return model.Throttle{
			Throttled: true,
			Reason: fmt.Sprintf("load1 %.2f above %.2f (%.1f x %d cores)",
				load1, loadMax, factor, cores),
		}
	}

	return model.Throttle{}
}

func (m *Monitor) cpuPercent(ctx context.Context, interval time.Duration) (float64, error) {
	if m.CPUPercent != nil {
		return m.CPUPercent(ctx, interval)
	}
	pcts, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("cpu sample returned no values")
	}
	return pcts[0], nil
}

func (m *Monitor) loadAvg(ctx context.Context) (float64, error) {
	if m.LoadAvg != nil {
		return m.LoadAvg(ctx)
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

func (m *Monitor) cores(ctx context.Context) int {
	if m.Cores != nil {
		if n, err := m.Cores(ctx); err == nil && n > 0 {
			return n
		}
		return runtime.NumCPU()
	}
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Package resource samples host CPU and memory utilization while a run is in
// its measurement phase.
package resource

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type Sample struct {
	At         time.Time `json:"at"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
}

type Summary struct {
	Samples int     `json:"samples"`
	CPUMean float64 `json:"cpu_mean"`
	CPUP95  float64 `json:"cpu_p95"`
	CPUMax  float64 `json:"cpu_max"`
	MemMean float64 `json:"mem_mean"`
	MemMax  float64 `json:"mem_max"`
}

// ProbeFunc takes one sample.
type ProbeFunc func(ctx context.Context) (Sample, error)

// HostProbe reads system-wide CPU since the previous call and current memory
// usage.
func HostProbe(ctx context.Context) (Sample, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{At: time.Now(), MemPercent: vm.UsedPercent}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	return s, nil
}

type Sampler struct {
	Interval time.Duration
	Probe    ProbeFunc
}

func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{Interval: interval, Probe: HostProbe}
}

// Run samples every Interval until ctx is done. Probe errors skip the tick.
func (s *Sampler) Run(ctx context.Context) []Sample {
	// prime the CPU delta
	s.Probe(ctx)

	var out []Sample
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return out
		case <-ticker.C:
			if sample, err := s.Probe(ctx); err == nil {
				out = append(out, sample)
			}
		}
	}
}

func Summarize(samples []Sample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	cpuPct := make([]float64, len(samples))
	memPct := make([]float64, len(samples))
	for i, s := range samples {
		cpuPct[i] = s.CPUPercent
		memPct[i] = s.MemPercent
	}
	sum := Summary{Samples: len(samples)}
	sum.CPUMean, _ = stats.Mean(cpuPct)
	sum.CPUP95, _ = stats.Percentile(cpuPct, 95)
	sum.CPUMax, _ = stats.Max(cpuPct)
	sum.MemMean, _ = stats.Mean(memPct)
	sum.MemMax, _ = stats.Max(memPct)
	return sum
}

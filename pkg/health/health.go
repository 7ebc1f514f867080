package health

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time view of host resource usage served by the
// health endpoint.
type Snapshot struct {
	Status         string  `json:"status"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	Goroutines     int     `json:"goroutines"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	CPUPercent     float64 `json:"cpu_percent"`
}

var started = time.Now()

// Collect gathers a snapshot. Metric collection failures leave the
// affected field at zero; the endpoint never fails because of them.
func Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemUsedPercent = vm.UsedPercent
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil &&
		len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	return snap
}

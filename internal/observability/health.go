package observability

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerHealth reports process uptime, memory, and CPU for the admin /healthz
// endpoint (internal/api).
type ServerHealth struct {
	startTime time.Time
}

func NewServerHealth() *ServerHealth {
	return &ServerHealth{startTime: time.Now()}
}

func (h *ServerHealth) Uptime() time.Duration {
	return time.Since(h.startTime)
}

func (h *ServerHealth) MemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// CPUPercent returns this process's CPU usage over the last sampling
// interval, falling back to system-wide usage if the process handle can't be
// read (e.g. inside certain sandboxes).
func (h *ServerHealth) CPUPercent() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			return pct, nil
		}
	}
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

func (h *ServerHealth) Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	cpuPct, _ := h.CPUPercent()
	return map[string]interface{}{
		"uptime_seconds": h.Uptime().Seconds(),
		"alloc_mb":       float64(m.Alloc) / 1024 / 1024,
		"sys_mb":         float64(m.Sys) / 1024 / 1024,
		"num_gc":         m.NumGC,
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
	}
}

package sysutil

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is a point-in-time view of the running process.
type ProcessStats struct {
	PID            int32     `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	RSSBytes       uint64    `json:"rss_bytes"`
	VMSBytes       uint64    `json:"vms_bytes"`
	CPUPercent     float64   `json:"cpu_percent"`
	Threads        int32     `json:"threads"`
	Goroutines     int       `json:"goroutines"`
	HeapAllocBytes uint64    `json:"heap_alloc_bytes"`
	GoVersion      string    `json:"go_version"`
}

// ReadProcessStats samples the current process through gopsutil and the Go
// runtime. now is used to derive the uptime.
func ReadProcessStats(ctx context.Context, now time.Time) (ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessStats{}, err
	}
	st := ProcessStats{
		PID:        pid,
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return ProcessStats{}, err
	}
	st.StartedAt = time.UnixMilli(created).UTC()
	if up := now.Sub(st.StartedAt); up > 0 {
		st.UptimeSeconds = int64(up / time.Second)
	}

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessStats{}, err
	}
	st.RSSBytes, st.VMSBytes = mem.RSS, mem.VMS

	// CPU and thread counts are best effort: some platforms refuse them to
	// unprivileged processes.
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		st.Threads = n
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapAllocBytes = ms.HeapAlloc
	return st, nil
}

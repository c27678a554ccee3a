package metrics

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage is a CPU and memory sample for one process.
type ResourceUsage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads CPU and memory usage for pid and updates the service gauges.
func SampleProcess(pid int) (ResourceUsage, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ResourceUsage{}, err
	}
	u := ResourceUsage{PID: p.Pid, Timestamp: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.MemoryRSS = mem.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	SetServiceResources(u.CPUPercent, u.MemoryRSS)
	return u, nil
}

package observability

import (
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is the best-effort resource sample backing the `status` control
// reply. A sampling failure degrades to a zero-valued Snapshot; it never
// blocks or fails the status reply.
type Snapshot struct {
	RSSBytes   uint64
	CPUPercent float64
}

// Sample reads the current resource usage for pid. Sampling a pid that has
// already exited (or was never valid) silently returns a zero Snapshot.
func Sample(pid int) Snapshot {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Snapshot{}
	}

	var snap Snapshot
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		snap.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	return snap
}

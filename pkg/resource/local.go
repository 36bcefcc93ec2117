package resource

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
)

// Local is the single-host resource manager. It tracks CPU/memory
// headroom against the real host capacity reported by gopsutil, and
// enforces per-neuron limits before admitting allocations.
type Local struct {
	*base
	capacityCPU float64
	capacityMem float64
}

// NewLocal constructs a local resource manager. capacityCPU/capacityMem,
// if zero, default to the host's logical CPU count and total memory as
// reported by gopsutil at construction time.
func NewLocal(capacityCPU, capacityMem float64) *Local {
	if capacityCPU <= 0 {
		if counts, err := cpu.Counts(true); err == nil && counts > 0 {
			capacityCPU = float64(counts)
		} else {
			capacityCPU = 1
		}
	}
	if capacityMem <= 0 {
		if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
			capacityMem = float64(vm.Total) / (1024 * 1024)
		} else {
			capacityMem = 1024
		}
	}
	return &Local{base: newBase(), capacityCPU: capacityCPU, capacityMem: capacityMem}
}

func (l *Local) Allocate(req Request) (Allocation, error) {
	return l.allocateLocked(req, func(heldCPU, heldMem float64) error {
		if heldCPU+req.CPUCores > l.capacityCPU {
			return coreerr.New(coreerr.KindResourceExhaust, "insufficient cpu headroom")
		}
		if heldMem+req.MemoryMiB > l.capacityMem {
			return coreerr.New(coreerr.KindResourceExhaust, "insufficient memory headroom")
		}
		return nil
	})
}

func (l *Local) Release(allocationID string) error { return l.release(allocationID) }

func (l *Local) Usage() Usage {
	cpuUsed, memUsed := l.heldTotals()
	return Usage{
		CPUCoresInUse:  cpuUsed,
		MemoryMiBInUse: memUsed,
		CPUUtil:        cpuUsed / l.capacityCPU,
		MemUtil:        memUsed / l.capacityMem,
	}
}

func (l *Local) Available() Usage {
	cpuUsed, memUsed := l.heldTotals()
	return Usage{
		CPUCoresInUse:  l.capacityCPU - cpuUsed,
		MemoryMiBInUse: l.capacityMem - memUsed,
		CPUUtil:        1 - cpuUsed/l.capacityCPU,
		MemUtil:        1 - memUsed/l.capacityMem,
	}
}

func (l *Local) SetLimits(neuronID string, limits Limits) { l.setLimits(neuronID, limits) }

func (l *Local) Monitor(neuronID string) (<-chan Metric, func()) { return l.monitor(neuronID) }

func (l *Local) Shutdown() { l.shutdown() }

package ffmpeg

import (
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"lconvert/config"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// cpuSampleWindow is how long CPU usage is sampled before each spawn.
const cpuSampleWindow = 200 * time.Millisecond

// ResourceGate refuses to start a conversion while the machine is short on
// CPU, memory or disk. Zero thresholds disable the matching check.
type ResourceGate struct {
	maxCPU      float64
	minFreeMem  uint64
	minFreeDisk uint64
	log         Logger
}

func NewResourceGate(cfg *config.Config, log Logger) *ResourceGate {
	return &ResourceGate{
		maxCPU:      cfg.MaxCPU,
		minFreeMem:  uint64(max(cfg.MinFreeMem, 0)),
		minFreeDisk: uint64(max(cfg.MinFreeDisk, 0)),
		log:         log,
	}
}

func (g *ResourceGate) Enabled() bool {
	return g.maxCPU > 0 || g.minFreeMem > 0 || g.minFreeDisk > 0
}

// Check verifies there is room for one more conversion writing into dir.
// Failing to read a metric only logs a warning.
func (g *ResourceGate) Check(dir string) error {
	if g.maxCPU > 0 {
		p, err := cpu.Percent(cpuSampleWindow, false)
		if err != nil {
			g.log.Warn("could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > g.maxCPU {
			return fmt.Errorf("%w: CPU usage %.2f%% is above %.2f%%", ErrInsufficientResources, p[0], g.maxCPU)
		}
	}

	if g.minFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			g.log.Warn("could not get memory usage: %v", err)
		} else if vm.Available < g.minFreeMem {
			return fmt.Errorf("%w: %d bytes of memory available, %d required", ErrInsufficientResources, vm.Available, g.minFreeMem)
		}
	}

	if g.minFreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			g.log.Warn("could not get disk usage for %s: %v", dir, err)
		} else if d.Free < g.minFreeDisk {
			return fmt.Errorf("%w: %d bytes free on %s, %d required", ErrInsufficientResources, d.Free, dir, g.minFreeDisk)
		}
	}
	return nil
}

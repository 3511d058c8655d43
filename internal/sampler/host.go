package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// HostReader reads host resource usage
type HostReader interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	NetworkIO(ctx context.Context) (event.NetworkIO, error)
}

// GopsutilReader reads the local host through gopsutil
type GopsutilReader struct {
	// CPUWindow is the CPU sampling interval. Zero means one second.
	CPUWindow time.Duration
}

func (r GopsutilReader) CPUPercent(ctx context.Context) (float64, error) {
	window := r.CPUWindow
	if window <= 0 {
		window = time.Second
	}
	percents, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu reading")
	}
	return percents[0], nil
}

func (GopsutilReader) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (GopsutilReader) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func (GopsutilReader) NetworkIO(ctx context.Context) (event.NetworkIO, error) {
	counters, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return event.NetworkIO{}, err
	}
	if len(counters) == 0 {
		return event.NetworkIO{}, fmt.Errorf("no network counters")
	}
	c := counters[0]
	return event.NetworkIO{
		BytesSent:   c.BytesSent,
		BytesRecv:   c.BytesRecv,
		PacketsSent: c.PacketsSent,
		PacketsRecv: c.PacketsRecv,
	}, nil
}

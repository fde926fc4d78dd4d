package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// sampleSystem measures local CPU and RAM utilisation. The CPU figure is
// averaged over a one second window, which dominates the runtime of a cycle
// on an otherwise healthy host.
func sampleSystem(ctx context.Context) (cpuPct, ramPct float64, err error) {
	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sample cpu: %w", err)
	}
	if len(percents) == 0 {
		return 0, 0, fmt.Errorf("cpu sampler returned no data")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sample memory: %w", err)
	}

	return percents[0], vm.UsedPercent, nil
}

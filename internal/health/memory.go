package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/r3e-network/mq-pipeline/internal/obserrors"
)

// MemoryThresholdPercent is the system memory utilization above which the
// process's own MEMORY check reports a failure, per spec §7's MEMORY kind
// ("allocation/out-of-memory signals").
const MemoryThresholdPercent = 90.0

// MemoryCheck builds a CheckFunc backed by gopsutil that fails once host
// memory utilization exceeds MemoryThresholdPercent.
func MemoryCheck(stage string) CheckFunc {
	return func(ctx context.Context) error {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return obserrors.Wrap(obserrors.KindMemory, stage, "read memory stats", err)
		}
		if vm.UsedPercent >= MemoryThresholdPercent {
			return obserrors.New(obserrors.KindMemory, stage, fmt.Sprintf("memory utilization %.1f%% exceeds threshold", vm.UsedPercent))
		}
		return nil
	}
}

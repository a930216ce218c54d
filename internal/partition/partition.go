// Package partition splits a dispatch's total work across execution channels.
//
// The resolved channel count is the requested count clamped to the available
// concurrency capacity, and every channel receives the same ceiling quota:
//
//	C' = min(C, A)
//	Q  = ceil(W / C')
//
// Remainders are not redistributed, so C' * Q may exceed W when W is not a
// multiple of C'. Callers report Planned() rather than correcting it.
package partition

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrNoCapacity means the capacity provider reported no usable workers.
	ErrNoCapacity = errors.New("no concurrent execution capacity available")

	// ErrInvalidChannels is returned for a requested channel count below one.
	ErrInvalidChannels = errors.New("channel count must be at least 1")

	// ErrNegativeWork is returned for a negative total work quantity.
	ErrNegativeWork = errors.New("total work must not be negative")
)

// Capacity is the host's concurrent execution capacity at dispatch start.
// IO is informational only; it is written to the audit log next to Workers.
type Capacity struct {
	Workers int
	IO      int
}

// CapacityProvider reports available capacity. It is queried once per dispatch.
type CapacityProvider interface {
	Available() Capacity
}

// Static is a fixed capacity, mostly useful in tests and for hard operator limits.
type Static Capacity

// Available implements CapacityProvider.
func (s Static) Available() Capacity { return Capacity(s) }

// Host derives capacity from the Go runtime. Goroutines are cheap, so each
// scheduler thread is allowed PerCPU channels.
type Host struct {
	PerCPU int

	// Max caps the worker capacity when positive.
	Max int
}

// DefaultPerCPU is the channel allowance per GOMAXPROCS slot used by Host.
const DefaultPerCPU = 64

// Available implements CapacityProvider.
func (h Host) Available() Capacity {
	per := h.PerCPU
	if per <= 0 {
		per = DefaultPerCPU
	}
	workers := runtime.GOMAXPROCS(0) * per
	if h.Max > 0 && workers > h.Max {
		workers = h.Max
	}
	return Capacity{Workers: workers, IO: runtime.NumCPU()}
}

// Partition is the resolved plan for one dispatch.
type Partition struct {
	Channels  int
	Quota     int
	TotalWork int
	Capacity  Capacity
}

// Planned is the number of attempts the plan allows across all channels.
func (p Partition) Planned() int { return p.Channels * p.Quota }

// Plan resolves the channel count and per-channel quota.
func Plan(totalWork, channels int, capacity Capacity) (Partition, error) {
	if totalWork < 0 {
		return Partition{}, fmt.Errorf("%w: %d", ErrNegativeWork, totalWork)
	}
	if channels < 1 {
		return Partition{}, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	if capacity.Workers < 1 {
		return Partition{}, ErrNoCapacity
	}

	resolved := min(channels, capacity.Workers)
	return Partition{
		Channels:  resolved,
		Quota:     ceilDiv(totalWork, resolved),
		TotalWork: totalWork,
		Capacity:  capacity,
	}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

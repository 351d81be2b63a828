package agent

import (
	"runtime"
	"sync/atomic"
	"time"
)

// IdleStrategy is invoked with the work count from the most recent pass
// over an agent's DoWork. A non-zero count resets any accumulated
// backoff; a zero count advances it. Only an IdleStrategy may suspend
// the calling goroutine.
type IdleStrategy interface {
	Idle(workCount int)
}

// BusySpin never yields, the lowest-latency, highest-CPU strategy —
// suitable for a dedicated core pinned to one agent.
type BusySpin struct{}

func (BusySpin) Idle(int) {}

// Yielding calls runtime.Gosched on every idle pass, trading a small
// amount of latency for letting other goroutines run on the same core.
type Yielding struct{}

func (Yielding) Idle(workCount int) {
	if workCount > 0 {
		return
	}
	runtime.Gosched()
}

// BackoffPark escalates from spinning to yielding to parking with
// exponentially increasing sleeps, capped at maxPark, the shape used for
// CPU-constrained or shared-thread deployments where busy-spinning every
// agent would starve its neighbours.
type BackoffPark struct {
	maxPark     time.Duration
	spinLimit   int32
	yieldLimit  int32
	consecutive atomic.Int32
}

// NewBackoffPark constructs a BackoffPark that spins for a short burst,
// then yields, then parks with exponential backoff up to maxPark between
// each idle call.
func NewBackoffPark(maxPark time.Duration) *BackoffPark {
	return &BackoffPark{
		maxPark:    maxPark,
		spinLimit:  100,
		yieldLimit: 1100,
	}
}

func (b *BackoffPark) Idle(workCount int) {
	if workCount > 0 {
		b.consecutive.Store(0)
		return
	}
	n := b.consecutive.Add(1)
	switch {
	case n <= b.spinLimit:
		// busy-spin burst
	case n <= b.yieldLimit:
		runtime.Gosched()
	default:
		shift := n - b.yieldLimit
		if shift > 20 {
			shift = 20
		}
		d := time.Microsecond * time.Duration(1<<uint(shift))
		if d > b.maxPark {
			d = b.maxPark
		}
		time.Sleep(d)
	}
}

// NoOp idles without doing anything observable; used in tests that want
// to drive DoWork in a tight, deterministic loop without a real idle
// strategy's timing side effects.
type NoOp struct{}

func (NoOp) Idle(int) {}

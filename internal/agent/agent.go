// Package agent implements the cooperative scheduling model the driver's
// three agents (Conductor, Sender, Receiver) run under: a non-blocking
// do-work primitive driven by a pluggable idle strategy, composable into
// dedicated, shared, or shared-network threading modes.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
)

// Runnable is the non-blocking unit of work every driver agent exposes.
// DoWork performs one bounded slice of work and returns the number of
// items processed; a zero return tells the enclosing Runner to idle.
// DoWork must never block beyond the idle strategy's own suspension.
type Runnable interface {
	// RoleName identifies the agent for logging (e.g. "conductor").
	RoleName() string
	DoWork() (int, error)
	// OnClose releases the agent's resources (sockets, buffers, counters)
	// once its Runner loop has exited.
	OnClose()
}

// Runner drives one or more Runnables on a single goroutine, applying an
// IdleStrategy whenever a full pass over every Runnable yields zero
// total work. Multiple Runnables on one Runner implement "shared" and
// "shared-network" threading modes; a Runner with a single Runnable
// implements "dedicated" mode.
type Runner struct {
	name    string
	agents  atomic.Pointer[[]Runnable]
	idle    IdleStrategy
	errHook func(agentName string, err error)
	addMu   sync.Mutex
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewRunner constructs a Runner over agents, idling with idle when no
// agent reports work, and reporting per-agent errors to errHook (which
// may be nil to ignore them — agents treat their own errors as non-fatal,
// logging and continuing rather than stopping the Runner).
func NewRunner(name string, idle IdleStrategy, errHook func(agentName string, err error), agents ...Runnable) *Runner {
	r := &Runner{
		name:    name,
		idle:    idle,
		errHook: errHook,
		done:    make(chan struct{}),
	}
	snapshot := append([]Runnable(nil), agents...)
	r.agents.Store(&snapshot)
	return r
}

// Add attaches a Runnable to a Runner that may already be running, the
// "shared" threading mode's way of folding a freshly spawned Sender onto
// the same loop as the Conductor and Receiver once the Conductor decides
// a new egress endpoint needs one. Safe for concurrent
// callers; never blocks Run's own loop.
func (r *Runner) Add(a Runnable) {
	r.addMu.Lock()
	defer r.addMu.Unlock()
	cur := *r.agents.Load()
	next := append(append([]Runnable(nil), cur...), a)
	r.agents.Store(&next)
}

// Run blocks, driving every agent's DoWork in round-robin until ctx is
// canceled, then calls OnClose on each agent in order before returning.
func (r *Runner) Run(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()
	defer close(r.done)
	defer func() {
		for _, a := range *r.agents.Load() {
			a.OnClose()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		total := 0
		for _, a := range *r.agents.Load() {
			n, err := a.DoWork()
			if err != nil && r.errHook != nil {
				r.errHook(a.RoleName(), err)
			}
			total += n
		}
		r.idle.Idle(total)
	}
}

// Start runs the Runner on its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	go r.Run(ctx)
}

// Name returns the Runner's configured name, used in log lines when
// several Runners are active under a shared threading mode.
func (r *Runner) Name() string { return r.name }

// Done returns a channel closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

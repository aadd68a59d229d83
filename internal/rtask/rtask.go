// Package rtask drives a task body at a fixed period on the real-time
// scheduler. A task runs as setup, a periodic update loop pinned to an
// OS thread with absolute deadlines, then teardown. Deadlines that
// were missed are not skipped: the loop runs back-to-back cycles until
// the schedule catches up, counting each late wake as an overrun.
package rtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/canlink-io/canlink/internal/logging"
)

var (
	// ErrSetupFailed reports a task whose Setup phase declined to run.
	ErrSetupFailed = errors.New("rtask: setup failed")
	// ErrAlreadyStarted reports a second Start on the same runner.
	ErrAlreadyStarted = errors.New("rtask: already started")
)

// Task is one periodic workload. Setup runs once on the loop thread
// before the first cycle; returning false aborts without entering the
// loop, and Teardown is skipped since there is nothing to unwind.
// Update runs every period; returning false ends the loop. Teardown
// runs once after the loop exits, however it exited.
type Task interface {
	Setup() bool
	Update() bool
	Teardown()
}

// TaskFuncs adapts plain functions to the Task interface. Nil fields
// default to success and no-op.
type TaskFuncs struct {
	SetupFunc    func() bool
	UpdateFunc   func() bool
	TeardownFunc func()
}

func (t TaskFuncs) Setup() bool {
	if t.SetupFunc == nil {
		return true
	}
	return t.SetupFunc()
}

func (t TaskFuncs) Update() bool {
	if t.UpdateFunc == nil {
		return true
	}
	return t.UpdateFunc()
}

func (t TaskFuncs) Teardown() {
	if t.TeardownFunc != nil {
		t.TeardownFunc()
	}
}

// Hooks observe loop events. All fields are optional and run on the
// loop thread, so they must be short.
type Hooks struct {
	// OnCycle receives the wake latency of every cycle, the time by
	// which the wake trailed its absolute deadline.
	OnCycle func(lat time.Duration)
	// OnOverrun fires when a wake trails its deadline by more than one
	// period, meaning the next deadline is already in the past.
	OnOverrun func(lag time.Duration)
}

// Test seams, swapped in unit tests.
var (
	monoNow    = readMonotonic
	waitUntil  = waitAbsolute
	setupRT    = applyRealtime
	teardownRT = releaseRealtime
)

const (
	defaultPeriod = 10 * time.Millisecond
	defaultGrace  = time.Second

	// FIFO priorities 1..98 are accepted; 99 is left to kernel threads.
	maxPriority = 98
)

// Runner executes one Task. A runner is single use: once stopped it
// cannot be restarted.
type Runner struct {
	task     Task
	period   time.Duration
	priority int
	strict   bool
	grace    time.Duration
	hooks    Hooks
	log      *slog.Logger

	started  atomic.Bool
	running  atomic.Bool
	cycles   atomic.Uint64
	overruns atomic.Uint64
	done     chan struct{}
	err      error
}

// Option configures a Runner.
type Option func(*Runner)

// WithPeriod sets the cycle period. The default is 10ms.
func WithPeriod(d time.Duration) Option {
	return func(r *Runner) { r.period = d }
}

// WithPriority requests a SCHED_FIFO priority in 1..98 for the loop
// thread. Zero, the default, runs without a real-time policy.
func WithPriority(p int) Option {
	return func(r *Runner) { r.priority = p }
}

// WithStrictScheduling turns a failure to apply the real-time policy
// into a loop error instead of a logged warning.
func WithStrictScheduling() Option {
	return func(r *Runner) { r.strict = true }
}

// WithStartupGrace sets the delay before the first cycle, giving the
// system time to settle after thread setup. The default is one second.
func WithStartupGrace(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// WithHooks installs cycle observers.
func WithHooks(h Hooks) Option {
	return func(r *Runner) { r.hooks = h }
}

// WithLogger overrides the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// New builds a runner for task. Start launches it.
func New(task Task, opts ...Option) *Runner {
	r := &Runner{
		task:   task,
		period: defaultPeriod,
		grace:  defaultGrace,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = logging.L()
	}
	return r
}

// Start validates the configuration and launches the loop thread. It
// returns before the first cycle runs.
func (r *Runner) Start() error {
	if r.task == nil {
		return errors.New("rtask: nil task")
	}
	if r.period <= 0 {
		return fmt.Errorf("rtask: period %v out of range", r.period)
	}
	if r.priority < 0 || r.priority > maxPriority {
		return fmt.Errorf("rtask: priority %d out of range (0..%d)", r.priority, maxPriority)
	}
	if r.started.Swap(true) {
		return ErrAlreadyStarted
	}
	go r.run()
	return nil
}

// Stop requests loop termination. The loop observes the request after
// finishing its current wait and update. Stopping a runner that never
// started, or stopping twice, is a no-op.
func (r *Runner) Stop() { r.running.Store(false) }

// Join waits for the loop thread to finish and returns its terminal
// error, if any. Joining a runner that never started returns nil
// immediately.
func (r *Runner) Join(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the update loop is active.
func (r *Runner) Running() bool { return r.running.Load() }

// Cycles returns the number of completed updates.
func (r *Runner) Cycles() uint64 { return r.cycles.Load() }

// Overruns returns the number of wakes that trailed their deadline by
// more than one period.
func (r *Runner) Overruns() uint64 { return r.overruns.Load() }

func (r *Runner) run() {
	defer close(r.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !r.task.Setup() {
		r.err = ErrSetupFailed
		return
	}
	r.running.Store(true)
	err := r.loop()
	r.running.Store(false)
	if err != nil {
		r.err = err
	}
	r.task.Teardown()
}

func (r *Runner) loop() error {
	if r.priority > 0 {
		if err := setupRT(r.priority); err != nil {
			if r.strict {
				return fmt.Errorf("rtask: %w", err)
			}
			r.log.Warn("rt_sched_unavailable", "priority", r.priority, "error", err)
		} else {
			defer teardownRT()
			r.log.Info("rt_sched_applied", "priority", r.priority, "period", r.period)
		}
	}

	deadline, err := monoNow()
	if err != nil {
		return fmt.Errorf("rtask: clock: %w", err)
	}
	deadline += r.grace.Nanoseconds()
	period := r.period.Nanoseconds()

	for r.running.Load() {
		if err := waitUntil(deadline); err != nil {
			return fmt.Errorf("rtask: wait: %w", err)
		}
		now, err := monoNow()
		if err != nil {
			return fmt.Errorf("rtask: clock: %w", err)
		}
		lat := time.Duration(now - deadline)
		if r.hooks.OnCycle != nil {
			r.hooks.OnCycle(lat)
		}
		if lat > r.period {
			r.overruns.Add(1)
			if r.hooks.OnOverrun != nil {
				r.hooks.OnOverrun(lat)
			}
		}
		if !r.task.Update() {
			break
		}
		r.cycles.Add(1)
		deadline += period
	}
	return nil
}

package rtask

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the loop deterministically through the package
// seams: sleeping jumps the clock to the requested deadline.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) read() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

func (c *fakeClock) sleep(deadline int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline > c.now {
		c.now = deadline
	}
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d.Nanoseconds()
	c.mu.Unlock()
}

func installFakeTime(t *testing.T) *fakeClock {
	t.Helper()
	fc := &fakeClock{}
	monoNow = fc.read
	waitUntil = fc.sleep
	setupRT = func(int) error { return nil }
	teardownRT = func() {}
	t.Cleanup(func() {
		monoNow = readMonotonic
		waitUntil = waitAbsolute
		setupRT = applyRealtime
		teardownRT = releaseRealtime
	})
	return fc
}

func joinCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPhasesRunInOrder(t *testing.T) {
	installFakeTime(t)
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	updates := 0
	task := TaskFuncs{
		SetupFunc: func() bool { record("setup"); return true },
		UpdateFunc: func() bool {
			record("update")
			updates++
			return updates < 3
		},
		TeardownFunc: func() { record("teardown") },
	}
	r := New(task, WithPeriod(time.Millisecond), WithStartupGrace(0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(joinCtx(t)); err != nil {
		t.Fatalf("Join: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"setup", "update", "update", "update", "teardown"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
	if r.Cycles() != 2 {
		t.Fatalf("Cycles = %d, want 2 completed updates", r.Cycles())
	}
	if r.Running() {
		t.Fatalf("runner still reports running after loop end")
	}
}

func TestSetupFailureSkipsLoopAndTeardown(t *testing.T) {
	installFakeTime(t)
	tornDown := false
	task := TaskFuncs{
		SetupFunc:    func() bool { return false },
		UpdateFunc:   func() bool { t.Error("update ran after failed setup"); return false },
		TeardownFunc: func() { tornDown = true },
	}
	r := New(task, WithStartupGrace(0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(joinCtx(t)); !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("Join = %v, want ErrSetupFailed", err)
	}
	if tornDown {
		t.Fatalf("teardown ran after failed setup")
	}
}

func TestStopEndsEndlessLoop(t *testing.T) {
	installFakeTime(t)
	started := make(chan struct{})
	var once sync.Once
	task := TaskFuncs{
		UpdateFunc: func() bool {
			once.Do(func() { close(started) })
			return true
		},
	}
	r := New(task, WithPeriod(time.Millisecond), WithStartupGrace(0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	if !r.Running() {
		t.Fatalf("runner not running mid-loop")
	}
	r.Stop()
	if err := r.Join(joinCtx(t)); err != nil {
		t.Fatalf("Join after stop: %v", err)
	}
}

func TestOverrunAccounting(t *testing.T) {
	fc := installFakeTime(t)
	var overruns []time.Duration
	updates := 0
	task := TaskFuncs{
		UpdateFunc: func() bool {
			// every update burns 25ms against a 10ms period
			fc.advance(25 * time.Millisecond)
			updates++
			return updates < 5
		},
	}
	r := New(task,
		WithPeriod(10*time.Millisecond),
		WithStartupGrace(0),
		WithHooks(Hooks{OnOverrun: func(lag time.Duration) { overruns = append(overruns, lag) }}),
	)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(joinCtx(t)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	// wakes 2..5 trail their deadline by more than one period
	if r.Overruns() != 4 {
		t.Fatalf("Overruns = %d, want 4", r.Overruns())
	}
	if len(overruns) != 4 {
		t.Fatalf("OnOverrun fired %d times, want 4", len(overruns))
	}
	for _, lag := range overruns {
		if lag <= 10*time.Millisecond {
			t.Fatalf("overrun lag %v not beyond one period", lag)
		}
	}
}

func TestStartValidation(t *testing.T) {
	installFakeTime(t)
	if err := New(nil).Start(); err == nil {
		t.Fatalf("expected error for nil task")
	}
	if err := New(TaskFuncs{}, WithPeriod(0)).Start(); err == nil {
		t.Fatalf("expected error for zero period")
	}
	if err := New(TaskFuncs{}, WithPriority(99)).Start(); err == nil {
		t.Fatalf("expected error for priority 99")
	}
	if err := New(TaskFuncs{}, WithPriority(-1)).Start(); err == nil {
		t.Fatalf("expected error for negative priority")
	}

	updates := 0
	r := New(TaskFuncs{UpdateFunc: func() bool { updates++; return false }},
		WithPeriod(time.Millisecond), WithStartupGrace(0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	_ = r.Join(joinCtx(t))
}

func TestNeverStartedRunner(t *testing.T) {
	r := New(TaskFuncs{})
	r.Stop() // no-op
	if err := r.Join(joinCtx(t)); err != nil {
		t.Fatalf("Join on never-started runner = %v, want nil", err)
	}
}

func TestStrictSchedulingFailure(t *testing.T) {
	installFakeTime(t)
	schedErr := errors.New("sched_setattr: operation not permitted")
	setupRT = func(int) error { return schedErr }

	tornDown := false
	r := New(
		TaskFuncs{
			UpdateFunc:   func() bool { t.Error("update ran despite strict sched failure"); return false },
			TeardownFunc: func() { tornDown = true },
		},
		WithPeriod(time.Millisecond), WithStartupGrace(0),
		WithPriority(50), WithStrictScheduling(),
	)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(joinCtx(t)); !errors.Is(err, schedErr) {
		t.Fatalf("Join = %v, want wrapped sched error", err)
	}
	if !tornDown {
		t.Fatalf("teardown skipped after strict sched failure")
	}
}

func TestLenientSchedulingFailureKeepsRunning(t *testing.T) {
	installFakeTime(t)
	setupRT = func(int) error { return errors.New("no privilege") }

	updates := 0
	r := New(
		TaskFuncs{UpdateFunc: func() bool { updates++; return updates < 3 }},
		WithPeriod(time.Millisecond), WithStartupGrace(0), WithPriority(50),
	)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(joinCtx(t)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if updates != 3 {
		t.Fatalf("updates = %d, want loop to run without the rt policy", updates)
	}
}

func TestWallClockCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	var updates int
	r := New(
		TaskFuncs{UpdateFunc: func() bool { updates++; return true }},
		WithPeriod(5*time.Millisecond), WithStartupGrace(10*time.Millisecond),
	)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	r.Stop()
	if err := r.Join(joinCtx(t)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	// ~28 cycles expected; accept a wide band for loaded machines
	if updates < 5 || updates > 60 {
		t.Fatalf("updates = %d, want a 5ms cadence over 150ms", updates)
	}
}

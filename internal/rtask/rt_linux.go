//go:build linux

package rtask

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

const prefaultStackBytes = 8 << 10

// readMonotonic returns CLOCK_MONOTONIC in nanoseconds.
func readMonotonic() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return unix.TimespecToNsec(ts), nil
}

// waitAbsolute sleeps until the monotonic deadline. A deadline already
// in the past returns immediately. The runtime's preemption signals
// interrupt the sleep routinely, so EINTR is retried against the same
// absolute deadline.
func waitAbsolute(deadline int64) error {
	ts := unix.NsecToTimespec(deadline)
	for {
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// applyRealtime locks memory, prefaults stack pages and installs the
// SCHED_FIFO policy on the calling thread.
func applyRealtime(priority int) error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	prefaultStack()
	attr := &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		_ = unix.Munlockall()
		return fmt.Errorf("sched_setattr(fifo %d): %w", priority, err)
	}
	return nil
}

func releaseRealtime() { _ = unix.Munlockall() }

//go:noinline
func prefaultStack() {
	var scratch [prefaultStackBytes]byte
	for i := range scratch {
		scratch[i] = 0
	}
	runtime.KeepAlive(&scratch)
}
